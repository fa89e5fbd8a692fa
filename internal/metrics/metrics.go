// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperDecisionsTotal    *prometheus.CounterVec
	scraperTierAttemptsTotal *prometheus.CounterVec
	scraperEscalationsTotal  *prometheus.CounterVec
	scraperURLFailuresTotal  prometheus.Counter
	scraperRunsTotal         prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times; recording functions are no-ops until it has been called.
func Init() {
	once.Do(func() {
		scraperDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_decisions_total",
				Help: "Total routing decisions, labeled by decision kind.",
			},
			[]string{"decision"},
		)

		scraperTierAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tier_attempts_total",
				Help: "Total extraction tier attempts, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		scraperEscalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_escalations_total",
				Help: "Total escalation events, labeled by reason.",
			},
			[]string{"reason"},
		)

		scraperURLFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_url_failures_total",
				Help: "Total URLs that failed processing without reaching a decision.",
			},
		)

		scraperRunsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total completed batch runs.",
			},
		)
	})
}

// ObserveDecision records one terminal routing decision.
func ObserveDecision(decision string) {
	if scraperDecisionsTotal == nil {
		return
	}
	scraperDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveTierAttempt records one adapter invocation outcome
// (accepted, rejected or unavailable).
func ObserveTierAttempt(tier, outcome string) {
	if scraperTierAttemptsTotal == nil {
		return
	}
	scraperTierAttemptsTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveEscalation records one escalation event by reason.
func ObserveEscalation(reason string) {
	if scraperEscalationsTotal == nil {
		return
	}
	scraperEscalationsTotal.WithLabelValues(reason).Inc()
}

// ObserveURLFailure records a URL aborted by a store or capture failure.
func ObserveURLFailure() {
	if scraperURLFailuresTotal == nil {
		return
	}
	scraperURLFailuresTotal.Inc()
}

// ObserveRun records a completed batch run.
func ObserveRun() {
	if scraperRunsTotal == nil {
		return
	}
	scraperRunsTotal.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
