package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics covers the gRPC API and the queue feed consumer.
type BackendMetrics struct {
	GRPCRequestsTotal     *prometheus.CounterVec
	GRPCRequestDuration   *prometheus.HistogramVec
	GRPCStreamsActive     prometheus.Gauge
	ConsumerMessagesTotal *prometheus.CounterVec
	ProcessingDuration    *prometheus.HistogramVec
}

func newBackendMetrics(namespace string) *BackendMetrics {
	return &BackendMetrics{
		GRPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),
		GRPCRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "request_duration_seconds",
				Help:      "Duration of unary gRPC requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		GRPCStreamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "watch_streams",
				Help:      "Number of open Watch streams",
			},
		),
		ConsumerMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Total number of queue messages consumed",
			},
			[]string{"queue", "status"}, // status: accepted, rejected, malformed, requeued
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "processing_duration_seconds",
				Help:      "Duration of queue message processing",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
	}
}

// NewBackendMetrics creates and registers backend metrics.
func NewBackendMetrics(namespace string) *BackendMetrics {
	m := newBackendMetrics(namespace)
	MustRegister(
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.GRPCStreamsActive,
		m.ConsumerMessagesTotal,
		m.ProcessingDuration,
	)
	return m
}

// NewBackendMetricsForTesting creates unregistered backend metrics.
func NewBackendMetricsForTesting() *BackendMetrics {
	return newBackendMetrics(testNamespace)
}
