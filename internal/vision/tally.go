package vision

import (
	"sync"
	"time"
)

// Tally accumulates one counter increment per URL decision during a batch.
// Pure accumulation: no decision logic, no side effects beyond counting.
// Safe for concurrent use by the batch workers.
type Tally struct {
	mu        sync.Mutex
	skipped   int
	cheap     int
	escalated int
}

// NewTally returns an empty Tally.
func NewTally() *Tally {
	return &Tally{}
}

// Add records one terminal decision.
func (t *Tally) Add(kind DecisionKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch kind {
	case DecisionSkipNoChange:
		t.skipped++
	case DecisionCheapOCRSuccess:
		t.cheap++
	case DecisionEscalateToAgent:
		t.escalated++
	}
}

// Summary produces the write-once rollup for the run.
func (t *Tally) Summary(runID string, ts time.Time) RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RunSummary{
		RunID:     runID,
		Timestamp: ts,
		Skipped:   t.skipped,
		CheapOCR:  t.cheap,
		Escalated: t.escalated,
	}
}
