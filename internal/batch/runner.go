// Package batch drives one scraping run across a district roster: capture,
// route, agent handoff, archive and publish, then the run rollup.
package batch

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/coachscout/jobs-crawler/internal/district"
	"github.com/coachscout/jobs-crawler/internal/metrics"
	"github.com/coachscout/jobs-crawler/internal/vision"
)

// Config controls Runner behavior.
type Config struct {
	Workers    int
	Topic      string
	BlobPrefix string
}

// DecisionRecord is the payload published for every terminal decision.
type DecisionRecord struct {
	RunID          string              `json:"run_id"`
	URL            string              `json:"url"`
	Decision       vision.DecisionKind `json:"decision"`
	Tier           vision.Tier         `json:"tier"`
	Confidence     float64             `json:"confidence,omitempty"`
	ScreenshotHash string              `json:"screenshot_hash"`
	ContentChanged bool                `json:"content_changed"`
	ArchiveURI     string              `json:"archive_uri,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Runner executes one batch run. The publisher, blob store, agent and
// finder are optional; a nil collaborator disables that step.
type Runner struct {
	router    *vision.Router
	store     vision.FingerprintStore
	capturer  Capturer
	agent     Agent
	publisher Publisher
	blobStore BlobStore
	finder    URLFinder
	ids       IDGenerator
	clock     vision.Clock
	cfg       Config
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Runner.
func New(
	router *vision.Router,
	store vision.FingerprintStore,
	capturer Capturer,
	agent Agent,
	publisher Publisher,
	blobStore BlobStore,
	finder URLFinder,
	ids IDGenerator,
	clock vision.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Runner, error) {
	if router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if store == nil {
		return nil, fmt.Errorf("fingerprint store is required")
	}
	if capturer == nil {
		return nil, fmt.Errorf("capturer is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Topic == "" {
		cfg.Topic = "scraper.decisions"
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "screenshots"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		router:    router,
		store:     store,
		capturer:  capturer,
		agent:     agent,
		publisher: publisher,
		blobStore: blobStore,
		finder:    finder,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Run processes every career URL in the roster and records the run
// summary. Per-URL failures are counted and logged but never abort the
// run; the returned error covers run-level problems only.
func (r *Runner) Run(ctx context.Context, districts []district.District) (vision.RunSummary, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return vision.RunSummary{}, fmt.Errorf("mint run id: %w", err)
	}

	urls := r.collectURLs(ctx, districts)
	r.logger.Info("run starting",
		zap.String("run_id", runID),
		zap.Int("districts", len(districts)),
		zap.Int("urls", len(urls)),
	)

	tally := vision.NewTally()
	var failures atomic.Int64

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range jobs {
				if ctx.Err() != nil {
					continue
				}
				r.processURL(ctx, runID, url, tally, &failures)
			}
		}()
	}

feed:
	for _, url := range urls {
		select {
		case jobs <- url:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	summary := tally.Summary(runID, r.clock.Now())
	if err := r.store.RecordRunSummary(ctx, summary); err != nil {
		return summary, fmt.Errorf("%w: record run summary: %w", vision.ErrStoreWrite, err)
	}
	metrics.ObserveRun()
	r.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("skipped_nochange", summary.Skipped),
		zap.Int("cheap_ocr", summary.CheapOCR),
		zap.Int("escalated", summary.Escalated),
		zap.Int64("url_failures", failures.Load()),
	)
	return summary, ctx.Err()
}

// collectURLs flattens the roster into a deduplicated URL list, falling
// back to homepage discovery for districts with no known career page.
func (r *Runner) collectURLs(ctx context.Context, districts []district.District) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		urls = append(urls, url)
	}

	for _, d := range districts {
		if len(d.CareerURLs) > 0 {
			for _, url := range d.CareerURLs {
				add(url)
			}
			continue
		}
		if d.Homepage == "" || r.finder == nil {
			continue
		}
		found, err := r.finder.CareerURLs(ctx, d.Homepage)
		if err != nil {
			r.logger.Warn("career url discovery failed",
				zap.String("district", d.Name),
				zap.String("homepage", d.Homepage),
				zap.Error(err),
			)
			continue
		}
		for _, url := range found {
			add(url)
		}
	}
	return urls
}

func (r *Runner) processURL(ctx context.Context, runID, url string, tally *vision.Tally, failures *atomic.Int64) {
	lock := r.lockFor(url)
	lock.Lock()
	defer lock.Unlock()

	screenshot, err := r.capturer.Capture(ctx, url)
	if err != nil {
		r.fail(url, "capture failed", err, failures)
		return
	}

	decision, err := r.router.Route(ctx, url, screenshot)
	if err != nil {
		r.fail(url, "routing failed", err, failures)
		return
	}

	var archiveURI string
	if decision.Kind == vision.DecisionEscalateToAgent {
		archiveURI = r.archive(ctx, url, decision.ScreenshotHash, screenshot)
		r.runAgent(ctx, url, decision.ScreenshotHash, screenshot)
	}

	r.publish(ctx, DecisionRecord{
		RunID:          runID,
		URL:            url,
		Decision:       decision.Kind,
		Tier:           decision.Tier,
		Confidence:     decision.Confidence,
		ScreenshotHash: decision.ScreenshotHash,
		ContentChanged: decision.ContentChanged,
		ArchiveURI:     archiveURI,
		Timestamp:      r.clock.Now(),
	})
	tally.Add(decision.Kind)
}

// runAgent performs the handoff the router stopped short of. On success
// the fingerprint is committed under the agent tier so the next run can
// skip an unchanged page. An agent failure leaves the row untouched; the
// URL is simply retried from scratch next run.
func (r *Runner) runAgent(ctx context.Context, url, screenshotHash string, screenshot []byte) {
	if r.agent == nil {
		return
	}
	result, err := r.agent.Extract(ctx, url, screenshot)
	if err != nil {
		r.logger.Warn("agent extraction failed", zap.String("url", url), zap.Error(err))
		return
	}
	if err := r.store.Upsert(ctx, url, screenshotHash, vision.TierAgent, result.TextHash); err != nil {
		r.logger.Error("agent fingerprint write failed", zap.String("url", url), zap.Error(err))
		return
	}
	r.logger.Info("agent extraction committed",
		zap.String("url", url),
		zap.Int("chars", len(result.Text)),
	)
}

func (r *Runner) archive(ctx context.Context, url, screenshotHash string, screenshot []byte) string {
	if r.blobStore == nil {
		return ""
	}
	objectPath := path.Join(r.cfg.BlobPrefix, screenshotHash+".png")
	uri, err := r.blobStore.PutObject(ctx, objectPath, "image/png", screenshot)
	if err != nil {
		r.logger.Warn("screenshot archive failed", zap.String("url", url), zap.Error(err))
		return ""
	}
	return uri
}

func (r *Runner) publish(ctx context.Context, record DecisionRecord) {
	if r.publisher == nil {
		return
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, record); err != nil {
		r.logger.Warn("decision publish failed", zap.String("url", record.URL), zap.Error(err))
	}
}

func (r *Runner) fail(url, msg string, err error, failures *atomic.Int64) {
	failures.Add(1)
	metrics.ObserveURLFailure()
	r.logger.Warn(msg, zap.String("url", url), zap.Error(err))
}

func (r *Runner) lockFor(url string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[url]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[url] = lock
	}
	return lock
}
