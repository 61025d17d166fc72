// Package services defines the business logic for dispatch, matching, and
// intake management. This file registers the domain-level Prometheus
// collectors: transition and match-run outcomes, match latency, and the
// findings of the periodic scans. HTTP-level metrics live in the middleware
// package.
package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// transitionsTotal counts successful load transitions by edge.
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_transitions_total",
			Help: "Successful load state transitions by from/to state.",
		},
		[]string{"from", "to"},
	)

	// rateAutoReusedTotal counts loads auto-advanced from rate memory.
	rateAutoReusedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_rate_auto_reused_total",
			Help: "Loads auto-advanced to rate_confirmed from rate memory.",
		},
	)

	// matchRunsTotal counts buyer-match runs by outcome
	// (matched, rejected, error).
	matchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buyer_match_runs_total",
			Help: "Buyer-match runs by outcome.",
		},
		[]string{"outcome"},
	)

	// matchLatency records the duration of the emit+parse phase in seconds.
	matchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buyer_match_emit_duration_seconds",
			Help:    "Duration of the scorer HTTP round trip in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// slaBreachesTotal counts loads flagged by the escalation scan.
	slaBreachesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_sla_breaches_total",
			Help: "Loads flagged for exceeding their per-state SLA.",
		},
	)

	// driftEventsTotal counts payload-hash mismatches found by the drift scan.
	driftEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buyer_match_drift_events_total",
			Help: "Stored packet payloads whose re-hash no longer matches.",
		},
	)

	// regressionEventsTotal counts score regressions found by the scan.
	regressionEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buyer_match_regression_events_total",
			Help: "Top-score regressions between consecutive match runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		transitionsTotal, rateAutoReusedTotal,
		matchRunsTotal, matchLatency,
		slaBreachesTotal, driftEventsTotal, regressionEventsTotal,
	)
}

// observeMatchLatency records one scorer round trip.
func observeMatchLatency(start time.Time) {
	matchLatency.Observe(time.Since(start).Seconds())
}
