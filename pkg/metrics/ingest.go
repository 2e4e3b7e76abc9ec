package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics covers the submission pipeline and the broadcast hub.
type IngestMetrics struct {
	SubmissionsTotal  *prometheus.CounterVec
	SubmitDuration    *prometheus.HistogramVec
	ConnectionsActive prometheus.Gauge
	BroadcastsTotal   prometheus.Counter
	EvictionsTotal    prometheus.Counter
	SnapshotsTotal    *prometheus.CounterVec
}

func newIngestMetrics(namespace string) *IngestMetrics {
	return &IngestMetrics{
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "submissions_total",
				Help:      "Total number of temperature submissions by source and outcome",
			},
			[]string{"source", "outcome"}, // outcome: accepted, unknownLocation, outOfRange, storageFailure
		),
		SubmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "submit_duration_seconds",
				Help:      "Duration from receipt of a submission to its acknowledgement",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "connections",
				Help:      "Number of connections registered for broadcasts",
			},
		),
		BroadcastsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "broadcasts_total",
				Help:      "Total number of measurement events fanned out",
			},
		),
		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "evictions_total",
				Help:      "Total number of connections dropped because their outbox was full",
			},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "snapshots_total",
				Help:      "Total number of snapshot requests",
			},
			[]string{"status"},
		),
	}
}

// NewIngestMetrics creates and registers ingest and hub metrics.
func NewIngestMetrics(namespace string) *IngestMetrics {
	m := newIngestMetrics(namespace)
	MustRegister(
		m.SubmissionsTotal,
		m.SubmitDuration,
		m.ConnectionsActive,
		m.BroadcastsTotal,
		m.EvictionsTotal,
		m.SnapshotsTotal,
	)
	return m
}

// NewIngestMetricsForTesting creates ingest metrics that are not registered
// anywhere, so tests can build as many as they like.
func NewIngestMetricsForTesting() *IngestMetrics {
	return newIngestMetrics(testNamespace)
}
