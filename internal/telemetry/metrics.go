package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the prometheus instruments the service exports on /metrics.
type Metrics struct {
	ReferencesProcessed *prometheus.CounterVec
	ConflictsDetected   prometheus.Counter
	ConflictsResolved   prometheus.Counter
	ReviewerFailures    prometheus.Counter
	ReviewerLatency     prometheus.Histogram
	RunsStarted         *prometheus.CounterVec
}

// New registers the screening metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ReferencesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refscreen_references_processed_total",
			Help: "References that completed a dual-reviewer pass, by final status.",
		}, []string{"status"}),
		ConflictsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refscreen_conflicts_detected_total",
			Help: "Reviewer disagreements flagged for manual resolution.",
		}),
		ConflictsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refscreen_conflicts_resolved_total",
			Help: "Conflicts closed by a manual decision.",
		}),
		ReviewerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refscreen_reviewer_failures_total",
			Help: "Reviewer evaluations that errored and were absorbed as uncertain.",
		}),
		ReviewerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "refscreen_reviewer_latency_seconds",
			Help:    "Latency of single reviewer evaluations.",
			Buckets: prometheus.DefBuckets,
		}),
		RunsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refscreen_runs_started_total",
			Help: "Screening runs started, by mode.",
		}, []string{"mode"}),
	}
}
