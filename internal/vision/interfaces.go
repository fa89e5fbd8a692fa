package vision

import (
	"context"
	"time"
)

// Extractor is one OCR tier. Implementations are stateless per call and
// must honor the context deadline; a timed-out call is reported as
// ErrTierUnavailable, never as a hang.
type Extractor interface {
	Tier() Tier
	Extract(ctx context.Context, image []byte) (ExtractionResult, error)
}

// FingerprintStore is the single source of truth for what happened the
// last time a URL was visited.
type FingerprintStore interface {
	// Get returns the fingerprint for url. found is false when the URL has
	// never reached a terminal decision.
	Get(ctx context.Context, url string) (fp PageFingerprint, found bool, err error)
	// Upsert creates or replaces the fingerprint row for url. The write is
	// atomic: a concurrent reader never observes a partially written row.
	Upsert(ctx context.Context, url, screenshotHash string, tier Tier, textHash string) error
	// RecordEscalation appends one audit row. Implementations must not fail
	// silently; a write failure propagates to the caller.
	RecordEscalation(ctx context.Context, event EscalationEvent) error
	// RecordRunSummary inserts the write-once rollup for a batch run.
	RecordRunSummary(ctx context.Context, summary RunSummary) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
