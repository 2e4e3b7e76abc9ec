package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics covers measurement store operations.
type StoreMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

func newStoreMetrics(namespace string) *StoreMetrics {
	return &StoreMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of measurement store operations",
			},
			[]string{"backend", "operation", "status"}, // operation: insert, query_window
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of measurement store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
	}
}

// NewStoreMetrics creates and registers store metrics.
func NewStoreMetrics(namespace string) *StoreMetrics {
	m := newStoreMetrics(namespace)
	MustRegister(m.OperationsTotal, m.OperationDuration)
	return m
}

// NewStoreMetricsForTesting creates unregistered store metrics.
func NewStoreMetricsForTesting() *StoreMetrics {
	return newStoreMetrics(testNamespace)
}
