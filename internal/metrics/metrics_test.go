package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if scraperDecisionsTotal == nil || scraperTierAttemptsTotal == nil ||
		scraperEscalationsTotal == nil || scraperURLFailuresTotal == nil ||
		scraperRunsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveDecision("skip_no_change")
	ObserveTierAttempt("local-ocr", "accepted")
	ObserveEscalation("too_short")
	ObserveURLFailure()
	ObserveRun()

	if got := testutil.ToFloat64(scraperDecisionsTotal.WithLabelValues("skip_no_change")); got < 1 {
		t.Fatalf("expected decision counter >= 1, got %v", got)
	}
	if got := testutil.ToFloat64(scraperRunsTotal); got < 1 {
		t.Fatalf("expected run counter >= 1, got %v", got)
	}
}

func TestObserveDoesNotPanic(t *testing.T) {
	ObserveDecision("cheap_ocr_success")
	ObserveTierAttempt("cloud-ocr", "rejected")
	ObserveEscalation("low_confidence")
}
