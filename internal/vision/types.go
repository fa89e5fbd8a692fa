package vision

import (
	"fmt"
	"time"
)

// Tier identifies one extraction backend in the escalation chain.
type Tier string

// Extraction tiers ordered from cheapest to most expensive.
const (
	TierLocalOCR Tier = "local-ocr"
	TierCloudOCR Tier = "cloud-ocr"
	TierAgent    Tier = "agent"
)

// ParseTierOrder validates a configured tier order. Unknown names and
// duplicates are rejected so a typo in configuration fails at startup
// rather than silently skipping a tier.
func ParseTierOrder(names []string) ([]Tier, error) {
	if len(names) == 0 {
		return []Tier{TierLocalOCR, TierCloudOCR, TierAgent}, nil
	}
	seen := make(map[Tier]bool, len(names))
	order := make([]Tier, 0, len(names))
	for _, name := range names {
		tier := Tier(name)
		switch tier {
		case TierLocalOCR, TierCloudOCR, TierAgent:
		default:
			return nil, fmt.Errorf("unknown tier %q", name)
		}
		if seen[tier] {
			return nil, fmt.Errorf("duplicate tier %q", name)
		}
		seen[tier] = true
		order = append(order, tier)
	}
	return order, nil
}

// ExtractionResult is produced by a tier adapter and consumed immediately
// by the router. It is never persisted.
type ExtractionResult struct {
	Tier       Tier
	Text       string
	Confidence float64
	TextHash   string
}

// PageFingerprint records what a URL looked like the last time a run
// reached a terminal decision for it. URL is the sole identity; rows are
// never deleted.
type PageFingerprint struct {
	URL            string          `json:"url"`
	ScreenshotHash string          `json:"screenshot_hash"`
	TextHashes     map[Tier]string `json:"text_hashes"`
	LastTier       Tier            `json:"last_tier"`
	LastSeen       time.Time       `json:"last_seen"`
}

// EscalationReason enumerates why the router moved past a tier.
type EscalationReason string

// Escalation reasons persisted in the audit log.
const (
	ReasonLowConfidence   EscalationReason = "low_confidence"
	ReasonTooShort        EscalationReason = "too_short"
	ReasonContentChanged  EscalationReason = "content_changed"
	ReasonTierUnavailable EscalationReason = "tier_unavailable"
)

// EscalationEvent is one append-only audit row. It is immutable once
// written: the log is the only record of why an expensive tier ran.
type EscalationEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	URL       string           `json:"url"`
	FromTier  Tier             `json:"from_tier"`
	ToTier    Tier             `json:"to_tier"`
	Reason    EscalationReason `json:"reason"`
	Info      string           `json:"info,omitempty"`
}

// RunSummary tallies the three headline numbers for one batch run.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Skipped   int       `json:"skipped_nochange"`
	CheapOCR  int       `json:"cheap_ocr"`
	Escalated int       `json:"escalated"`
}

// DecisionKind is the terminal outcome of routing one URL.
type DecisionKind string

// Routing outcomes.
const (
	DecisionSkipNoChange    DecisionKind = "skip_no_change"
	DecisionCheapOCRSuccess DecisionKind = "cheap_ocr_success"
	DecisionEscalateToAgent DecisionKind = "escalate_to_agent"
)

// Decision is returned by the router for each processed URL.
//
// For CheapOCRSuccess, Tier names the accepting tier and Text carries the
// extracted text for downstream record writing. For EscalateToAgent the
// caller runs the agent itself and, on success, upserts the fingerprint
// using ScreenshotHash.
type Decision struct {
	Kind           DecisionKind
	Tier           Tier
	Text           string
	Confidence     float64
	ScreenshotHash string
	// ContentChanged reports that the accepting tier's text hash differs
	// from the one stored on the previous visit. Informational only: a
	// changed page is still an acceptable read.
	ContentChanged bool
}
