package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProducerMetrics covers the synthetic submission generator.
type ProducerMetrics struct {
	SubmissionsGenerated *prometheus.CounterVec
	PublishFailures      *prometheus.CounterVec
	GenerationDuration   prometheus.Histogram
	ActiveProducers      prometheus.Gauge
}

func newProducerMetrics(namespace string) *ProducerMetrics {
	return &ProducerMetrics{
		SubmissionsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "submissions_generated_total",
				Help:      "Total number of synthetic submissions published",
			},
			[]string{"location"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "publish_failures_total",
				Help:      "Total number of synthetic submissions that could not be published",
			},
			[]string{"reason"},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "generation_duration_seconds",
				Help:      "Duration of one generate-and-publish round",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveProducers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "active_producers",
				Help:      "Number of currently running producers",
			},
		),
	}
}

// NewProducerMetrics creates and registers producer metrics.
func NewProducerMetrics(namespace string) *ProducerMetrics {
	m := newProducerMetrics(namespace)
	MustRegister(
		m.SubmissionsGenerated,
		m.PublishFailures,
		m.GenerationDuration,
		m.ActiveProducers,
	)
	return m
}

// NewProducerMetricsForTesting creates unregistered producer metrics.
func NewProducerMetricsForTesting() *ProducerMetrics {
	return newProducerMetrics(testNamespace)
}
