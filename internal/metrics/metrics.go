// Package metrics provides prometheus collectors for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PhaseProcessed counts records processed per phase and outcome.
	PhaseProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidcrawl_phase_records_total",
			Help: "Records processed per pipeline phase, labeled by outcome.",
		},
		[]string{"phase", "outcome"},
	)

	// PhaseDuration observes wall time per phase run.
	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidcrawl_phase_duration_seconds",
			Help:    "Duration of one pipeline phase run in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"phase"},
	)

	// QueuePending gauges the shared queue's pending set size.
	QueuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidcrawl_queue_pending",
			Help: "Number of video ids in the pending queue.",
		},
	)

	// QueueProcessing gauges total claims across all instances.
	QueueProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidcrawl_queue_processing",
			Help: "Number of video ids currently claimed by instances.",
		},
	)

	// ClaimDuration observes claim latency including lock wait.
	ClaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kidcrawl_queue_claim_duration_seconds",
			Help:    "Duration of one queue claim including lock acquisition.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ManifestRecords gauges manifest size by status.
	ManifestRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kidcrawl_manifest_records",
			Help: "Manifest record counts labeled by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(PhaseProcessed)
	prometheus.MustRegister(PhaseDuration)
	prometheus.MustRegister(QueuePending)
	prometheus.MustRegister(QueueProcessing)
	prometheus.MustRegister(ClaimDuration)
	prometheus.MustRegister(ManifestRecords)
}

// Outcome labels for PhaseProcessed.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)
