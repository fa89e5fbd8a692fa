package vision

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coachscout/jobs-crawler/internal/hash/content"
	"github.com/coachscout/jobs-crawler/internal/metrics"
)

// TierPolicy holds the acceptance thresholds and time budget for one tier.
type TierPolicy struct {
	MinConfidence float64
	MinChars      int
	Timeout       time.Duration
}

// RouterConfig is built once at startup from validated configuration.
type RouterConfig struct {
	// Order is the escalation chain, cheapest first. The agent tier, if
	// present, terminates the chain; the router never invokes it.
	Order []Tier
	// Policies maps each non-agent tier to its thresholds.
	Policies map[Tier]TierPolicy
}

// Router decides, per URL and capture, whether the page is unchanged,
// which extraction tier is cheap enough to trust, and what gets persisted
// so the next run can skip unnecessary work.
type Router struct {
	store      FingerprintStore
	extractors map[Tier]Extractor
	cfg        RouterConfig
	clock      Clock
	logger     *zap.Logger
}

// NewRouter constructs a Router. Extractors are registered by their tier;
// a tier present in cfg.Order with no registered extractor is treated as
// unavailable and skipped with an audit event, never attempted.
func NewRouter(
	store FingerprintStore,
	extractors []Extractor,
	cfg RouterConfig,
	clock Clock,
	logger *zap.Logger,
) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("fingerprint store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if len(cfg.Order) == 0 {
		cfg.Order = []Tier{TierLocalOCR, TierCloudOCR, TierAgent}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byTier := make(map[Tier]Extractor, len(extractors))
	for _, ext := range extractors {
		if ext == nil {
			continue
		}
		if _, dup := byTier[ext.Tier()]; dup {
			return nil, fmt.Errorf("duplicate extractor for tier %q", ext.Tier())
		}
		byTier[ext.Tier()] = ext
	}
	return &Router{
		store:      store,
		extractors: byTier,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Route executes the escalation chain for one captured page.
//
// The unchanged-screenshot check runs before any tier. Tier failures are
// absorbed into escalation events; store failures propagate so the batch
// driver can report the URL as failed without corrupting its counts.
func (r *Router) Route(ctx context.Context, pageURL string, screenshot []byte) (Decision, error) {
	if err := validateInput(pageURL, screenshot); err != nil {
		return Decision{}, err
	}

	shotHash := content.ImageSum(screenshot)

	prior, found, err := r.store.Get(ctx, pageURL)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: lookup %s: %w", ErrStoreRead, pageURL, err)
	}
	if found && prior.ScreenshotHash == shotHash {
		r.logger.Info("skip: screenshot unchanged", zap.String("url", pageURL))
		metrics.ObserveDecision(string(DecisionSkipNoChange))
		return Decision{
			Kind:           DecisionSkipNoChange,
			Tier:           prior.LastTier,
			ScreenshotHash: shotHash,
		}, nil
	}

	lastReason := ReasonTierUnavailable
	lastTier := Tier("")
	var chain []string

	for i, tier := range r.cfg.Order {
		if tier == TierAgent {
			break
		}
		lastTier = tier
		next := r.nextTier(i)

		ext := r.extractors[tier]
		if ext == nil {
			lastReason = ReasonTierUnavailable
			chain = append(chain, fmt.Sprintf("%s:unavailable", tier))
			metrics.ObserveTierAttempt(string(tier), "unavailable")
			if err := r.recordEscalation(ctx, pageURL, tier, next, ReasonTierUnavailable, "tier not configured"); err != nil {
				return Decision{}, err
			}
			continue
		}

		result, extractErr := r.extract(ctx, ext, tier, screenshot)
		if extractErr != nil {
			lastReason = ReasonTierUnavailable
			chain = append(chain, fmt.Sprintf("%s:unavailable", tier))
			r.logger.Warn("tier unavailable",
				zap.String("url", pageURL),
				zap.String("tier", string(tier)),
				zap.Error(extractErr),
			)
			metrics.ObserveTierAttempt(string(tier), "unavailable")
			if err := r.recordEscalation(ctx, pageURL, tier, next, ReasonTierUnavailable, extractErr.Error()); err != nil {
				return Decision{}, err
			}
			continue
		}

		policy := r.cfg.Policies[tier]
		reason, accepted := evaluate(result, policy)
		if accepted {
			changed := found && prior.TextHashes[tier] != "" && prior.TextHashes[tier] != result.TextHash
			if err := r.store.Upsert(ctx, pageURL, shotHash, tier, result.TextHash); err != nil {
				return Decision{}, fmt.Errorf("%w: upsert %s: %w", ErrStoreWrite, pageURL, err)
			}
			r.logger.Info("tier accepted",
				zap.String("url", pageURL),
				zap.String("tier", string(tier)),
				zap.Float64("confidence", result.Confidence),
				zap.Int("chars", len(result.Text)),
				zap.Bool("content_changed", changed),
			)
			metrics.ObserveTierAttempt(string(tier), "accepted")
			metrics.ObserveDecision(string(DecisionCheapOCRSuccess))
			return Decision{
				Kind:           DecisionCheapOCRSuccess,
				Tier:           tier,
				Text:           result.Text,
				Confidence:     result.Confidence,
				ScreenshotHash: shotHash,
				ContentChanged: changed,
			}, nil
		}

		lastReason = reason
		chain = append(chain, fmt.Sprintf("%s:%s", tier, reason))
		r.logger.Info("tier rejected",
			zap.String("url", pageURL),
			zap.String("tier", string(tier)),
			zap.String("reason", string(reason)),
			zap.Float64("confidence", result.Confidence),
			zap.Int("chars", len(result.Text)),
		)
		metrics.ObserveTierAttempt(string(tier), "rejected")
		info := fmt.Sprintf("conf=%.2f chars=%d", result.Confidence, len(result.Text))
		if err := r.recordEscalation(ctx, pageURL, tier, next, reason, info); err != nil {
			return Decision{}, err
		}
	}

	info := "no extraction tiers configured"
	if len(chain) > 0 {
		info = "chain: " + strings.Join(chain, " -> ")
	}
	if err := r.recordEscalation(ctx, pageURL, lastTier, TierAgent, lastReason, info); err != nil {
		return Decision{}, err
	}
	r.logger.Info("escalating to agent", zap.String("url", pageURL), zap.String("chain", info))
	metrics.ObserveDecision(string(DecisionEscalateToAgent))
	return Decision{
		Kind:           DecisionEscalateToAgent,
		Tier:           TierAgent,
		ScreenshotHash: shotHash,
	}, nil
}

// extract invokes the adapter under the tier's time budget. A deadline
// overrun is returned as ErrTierUnavailable like any other tier failure.
func (r *Router) extract(ctx context.Context, ext Extractor, tier Tier, screenshot []byte) (ExtractionResult, error) {
	policy := r.cfg.Policies[tier]
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	result, err := ext.Extract(ctx, screenshot)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("%w: %w", ErrTierUnavailable, err)
	}
	if result.TextHash == "" {
		result.TextHash = content.TextSum(result.Text)
	}
	result.Tier = tier
	return result, nil
}

// nextTier returns the tier that follows index i in the configured order,
// defaulting to the agent when the chain ends.
func (r *Router) nextTier(i int) Tier {
	if i+1 < len(r.cfg.Order) {
		return r.cfg.Order[i+1]
	}
	return TierAgent
}

func (r *Router) recordEscalation(
	ctx context.Context,
	pageURL string,
	from, to Tier,
	reason EscalationReason,
	info string,
) error {
	event := EscalationEvent{
		Timestamp: r.clock.Now(),
		URL:       pageURL,
		FromTier:  from,
		ToTier:    to,
		Reason:    reason,
		Info:      info,
	}
	if err := r.store.RecordEscalation(ctx, event); err != nil {
		return fmt.Errorf("%w: record escalation for %s: %w", ErrStoreWrite, pageURL, err)
	}
	metrics.ObserveEscalation(string(reason))
	return nil
}

// evaluate applies the acceptance thresholds. Length is checked before
// confidence. A differing text hash is not a rejection: content change
// alone never blocks acceptance.
func evaluate(result ExtractionResult, policy TierPolicy) (EscalationReason, bool) {
	if strings.TrimSpace(result.Text) == "" || len(result.Text) < policy.MinChars {
		return ReasonTooShort, false
	}
	if result.Confidence < policy.MinConfidence {
		return ReasonLowConfidence, false
	}
	return "", true
}

func validateInput(pageURL string, screenshot []byte) error {
	if len(screenshot) == 0 {
		return fmt.Errorf("%w: empty screenshot", ErrInvalidInput)
	}
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: malformed url %q", ErrInvalidInput, pageURL)
	}
	return nil
}
