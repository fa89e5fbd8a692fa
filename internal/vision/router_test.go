package vision_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachscout/jobs-crawler/internal/store/memory"
	"github.com/coachscout/jobs-crawler/internal/vision"
)

const testURL = "https://example.org/job/42"

func TestRouteIdenticalScreenshotSkips(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.95},
	}
	router := newTestRouter(t, store, local)

	screenshot := []byte("job-page-screenshot-v1")

	first, err := router.Route(context.Background(), testURL, screenshot)
	require.NoError(t, err)
	require.Equal(t, vision.DecisionCheapOCRSuccess, first.Kind)
	require.Equal(t, vision.TierLocalOCR, first.Tier)
	require.Equal(t, longText(), first.Text)

	second, err := router.Route(context.Background(), testURL, screenshot)
	require.NoError(t, err)
	assert.Equal(t, vision.DecisionSkipNoChange, second.Kind)
	assert.Equal(t, 1, local.calls, "no tier may run on the skip path")
	assert.Empty(t, store.Escalations())
}

func TestRouteSingleByteChangeDefeatsSkip(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.95},
	}
	router := newTestRouter(t, store, local)

	screenshot := []byte("job-page-screenshot-v1")
	_, err := router.Route(context.Background(), testURL, screenshot)
	require.NoError(t, err)

	mutated := append([]byte(nil), screenshot...)
	mutated[0] ^= 0x01

	decision, err := router.Route(context.Background(), testURL, mutated)
	require.NoError(t, err)
	assert.Equal(t, vision.DecisionCheapOCRSuccess, decision.Kind)
	assert.Equal(t, 2, local.calls)
}

func TestRouteMonotonicEscalation(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	var order []vision.Tier
	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.10},
		onCall: func() { order = append(order, vision.TierLocalOCR) },
	}
	cloud := &fakeExtractor{
		tier:   vision.TierCloudOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.90},
		onCall: func() { order = append(order, vision.TierCloudOCR) },
	}
	router := newTestRouter(t, store, local, cloud)

	decision, err := router.Route(context.Background(), testURL, []byte("capture"))
	require.NoError(t, err)

	require.Equal(t, vision.DecisionCheapOCRSuccess, decision.Kind)
	require.Equal(t, vision.TierCloudOCR, decision.Tier)
	assert.Equal(t, []vision.Tier{vision.TierLocalOCR, vision.TierCloudOCR}, order,
		"cloud tier must be attempted after local, never skipped")

	events := store.Escalations()
	require.Len(t, events, 1)
	assert.Equal(t, vision.ReasonLowConfidence, events[0].Reason)
	assert.Equal(t, vision.TierLocalOCR, events[0].FromTier)
	assert.Equal(t, vision.TierCloudOCR, events[0].ToTier)
}

func TestRouteEscalationLogCompleteness(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: "short", Confidence: 0.99},
	}
	cloud := &fakeExtractor{
		tier:   vision.TierCloudOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.40},
	}
	router := newTestRouter(t, store, local, cloud)

	decision, err := router.Route(context.Background(), testURL, []byte("capture"))
	require.NoError(t, err)
	require.Equal(t, vision.DecisionEscalateToAgent, decision.Kind)
	require.NotEmpty(t, decision.ScreenshotHash)

	events := store.Escalations()
	require.Len(t, events, 3, "two rejections plus the final agent handoff")

	assert.Equal(t, vision.ReasonTooShort, events[0].Reason)
	assert.Equal(t, vision.TierLocalOCR, events[0].FromTier)
	assert.Equal(t, vision.TierCloudOCR, events[0].ToTier)

	assert.Equal(t, vision.ReasonLowConfidence, events[1].Reason)
	assert.Equal(t, vision.TierCloudOCR, events[1].FromTier)
	assert.Equal(t, vision.TierAgent, events[1].ToTier)

	assert.Equal(t, vision.ReasonLowConfidence, events[2].Reason)
	assert.Equal(t, vision.TierAgent, events[2].ToTier)
	assert.Contains(t, events[2].Info, "too_short")
	assert.Contains(t, events[2].Info, "low_confidence")
}

func TestRouteDisabledTierNeverAttempted(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.20},
	}
	// Cloud OCR is not registered at all (e.g. no credentials).
	router := newTestRouter(t, store, local)

	decision, err := router.Route(context.Background(), testURL, []byte("capture"))
	require.NoError(t, err)
	require.Equal(t, vision.DecisionEscalateToAgent, decision.Kind)

	events := store.Escalations()
	require.Len(t, events, 3)
	assert.Equal(t, vision.ReasonLowConfidence, events[0].Reason)
	assert.Equal(t, vision.ReasonTierUnavailable, events[1].Reason)
	assert.Equal(t, vision.TierCloudOCR, events[1].FromTier)
	assert.Equal(t, vision.TierAgent, events[1].ToTier)
}

// The worked example: first visit rejects both cheap tiers, second visit
// with identical bytes short-circuits with no tier invocations.
func TestRouteExampleScenario(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: "coach", Confidence: 0.99},
	}
	cloud := &fakeExtractor{
		tier:   vision.TierCloudOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.40},
	}
	cfg := vision.RouterConfig{
		Order: []vision.Tier{vision.TierLocalOCR, vision.TierCloudOCR, vision.TierAgent},
		Policies: map[vision.Tier]vision.TierPolicy{
			vision.TierLocalOCR: {MinChars: 20, MinConfidence: 0.65},
			vision.TierCloudOCR: {MinChars: 20, MinConfidence: 0.60},
		},
	}
	router, err := vision.NewRouter(store, []vision.Extractor{local, cloud}, cfg, fixedClock{}, nil)
	require.NoError(t, err)

	screenshot := []byte("first-capture")
	decision, err := router.Route(context.Background(), testURL, screenshot)
	require.NoError(t, err)
	require.Equal(t, vision.DecisionEscalateToAgent, decision.Kind)

	events := store.Escalations()
	require.Len(t, events, 3)
	require.Equal(t, vision.ReasonTooShort, events[0].Reason)
	require.Equal(t, vision.ReasonLowConfidence, events[1].Reason)

	// The caller ran the agent and reports its result back.
	require.NoError(t, store.Upsert(context.Background(), testURL, decision.ScreenshotHash, vision.TierAgent, "agent-text-hash"))

	second, err := router.Route(context.Background(), testURL, screenshot)
	require.NoError(t, err)
	assert.Equal(t, vision.DecisionSkipNoChange, second.Kind)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, cloud.calls)
	assert.Len(t, store.Escalations(), 3, "skip path writes no events")
}

func TestRouteAcceptanceIgnoresContentChange(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	require.NoError(t, store.Upsert(context.Background(), testURL, "old-shot-hash", vision.TierLocalOCR, "old-text-hash"))

	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.95},
	}
	router := newTestRouter(t, store, local)

	decision, err := router.Route(context.Background(), testURL, []byte("new-capture"))
	require.NoError(t, err)
	assert.Equal(t, vision.DecisionCheapOCRSuccess, decision.Kind)
	assert.True(t, decision.ContentChanged, "hash change is surfaced, not rejected")
	assert.Empty(t, store.Escalations())
}

func TestRouteTierTimeoutTreatedAsUnavailable(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.95},
		delay:  200 * time.Millisecond,
	}
	cloud := &fakeExtractor{
		tier:   vision.TierCloudOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.95},
	}
	cfg := vision.RouterConfig{
		Order: []vision.Tier{vision.TierLocalOCR, vision.TierCloudOCR, vision.TierAgent},
		Policies: map[vision.Tier]vision.TierPolicy{
			vision.TierLocalOCR: {MinChars: 20, MinConfidence: 0.65, Timeout: 20 * time.Millisecond},
			vision.TierCloudOCR: {MinChars: 20, MinConfidence: 0.65},
		},
	}
	router, err := vision.NewRouter(store, []vision.Extractor{local, cloud}, cfg, fixedClock{}, nil)
	require.NoError(t, err)

	decision, err := router.Route(context.Background(), testURL, []byte("capture"))
	require.NoError(t, err)
	require.Equal(t, vision.DecisionCheapOCRSuccess, decision.Kind)
	require.Equal(t, vision.TierCloudOCR, decision.Tier)

	events := store.Escalations()
	require.Len(t, events, 1)
	assert.Equal(t, vision.ReasonTierUnavailable, events[0].Reason)
}

func TestRouteStoreReadErrorIsFatal(t *testing.T) {
	t.Parallel()

	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: longText(), Confidence: 0.95},
	}
	store := &failingStore{getErr: errors.New("disk error")}
	router := newTestRouter(t, store, local)

	_, err := router.Route(context.Background(), testURL, []byte("capture"))
	require.ErrorIs(t, err, vision.ErrStoreRead)
	assert.Equal(t, 0, local.calls, "a read failure must not be treated as no-change")
}

func TestRouteEscalationWriteErrorPropagates(t *testing.T) {
	t.Parallel()

	local := &fakeExtractor{
		tier:   vision.TierLocalOCR,
		result: vision.ExtractionResult{Text: "x", Confidence: 0.10},
	}
	store := &failingStore{escalationErr: errors.New("disk full")}
	router := newTestRouter(t, store, local)

	_, err := router.Route(context.Background(), testURL, []byte("capture"))
	require.ErrorIs(t, err, vision.ErrStoreWrite)
}

func TestRouteInvalidInput(t *testing.T) {
	t.Parallel()

	store := memory.NewFingerprintStore(fixedClock{})
	router := newTestRouter(t, store)

	_, err := router.Route(context.Background(), testURL, nil)
	require.ErrorIs(t, err, vision.ErrInvalidInput)

	_, err = router.Route(context.Background(), "not-a-url", []byte("capture"))
	require.ErrorIs(t, err, vision.ErrInvalidInput)

	_, err = router.Route(context.Background(), "ftp://example.org/jobs", []byte("capture"))
	require.ErrorIs(t, err, vision.ErrInvalidInput)

	assert.Empty(t, store.Escalations(), "invalid input mutates nothing")
}

func TestParseTierOrder(t *testing.T) {
	t.Parallel()

	order, err := vision.ParseTierOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []vision.Tier{vision.TierLocalOCR, vision.TierCloudOCR, vision.TierAgent}, order)

	order, err = vision.ParseTierOrder([]string{"cloud-ocr", "agent"})
	require.NoError(t, err)
	assert.Equal(t, []vision.Tier{vision.TierCloudOCR, vision.TierAgent}, order)

	_, err = vision.ParseTierOrder([]string{"paddle"})
	require.Error(t, err)

	_, err = vision.ParseTierOrder([]string{"local-ocr", "local-ocr"})
	require.Error(t, err)
}

// --- helpers ---

func newTestRouter(t *testing.T, store vision.FingerprintStore, extractors ...*fakeExtractor) *vision.Router {
	t.Helper()
	exts := make([]vision.Extractor, 0, len(extractors))
	for _, e := range extractors {
		exts = append(exts, e)
	}
	cfg := vision.RouterConfig{
		Order: []vision.Tier{vision.TierLocalOCR, vision.TierCloudOCR, vision.TierAgent},
		Policies: map[vision.Tier]vision.TierPolicy{
			vision.TierLocalOCR: {MinChars: 20, MinConfidence: 0.65},
			vision.TierCloudOCR: {MinChars: 20, MinConfidence: 0.65},
		},
	}
	router, err := vision.NewRouter(store, exts, cfg, fixedClock{}, nil)
	require.NoError(t, err)
	return router
}

func longText() string {
	return "Head Varsity Basketball Coach, Lincoln High School. Apply by June 30."
}

type fakeExtractor struct {
	tier   vision.Tier
	result vision.ExtractionResult
	err    error
	delay  time.Duration
	calls  int
	onCall func()
}

func (f *fakeExtractor) Tier() vision.Tier { return f.tier }

func (f *fakeExtractor) Extract(ctx context.Context, _ []byte) (vision.ExtractionResult, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return vision.ExtractionResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return vision.ExtractionResult{}, f.err
	}
	result := f.result
	result.Tier = f.tier
	return result, nil
}

type failingStore struct {
	getErr        error
	upsertErr     error
	escalationErr error
}

func (s *failingStore) Get(context.Context, string) (vision.PageFingerprint, bool, error) {
	return vision.PageFingerprint{}, false, s.getErr
}

func (s *failingStore) Upsert(context.Context, string, string, vision.Tier, string) error {
	return s.upsertErr
}

func (s *failingStore) RecordEscalation(context.Context, vision.EscalationEvent) error {
	return s.escalationErr
}

func (s *failingStore) RecordRunSummary(context.Context, vision.RunSummary) error {
	return nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Unix(1700000000, 0).UTC()
}
