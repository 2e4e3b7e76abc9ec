package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/tempglobe/pkg/metrics"
)

// Instrumented records operation counts and latency for a wrapped Store.
type Instrumented struct {
	next    Store
	metrics *metrics.StoreMetrics
	backend string
}

// Instrument wraps next with metrics labelled by backend.
func Instrument(next Store, backend string, m *metrics.StoreMetrics) *Instrumented {
	return &Instrumented{next: next, backend: backend, metrics: m}
}

// Insert implements Store.
func (s *Instrumented) Insert(ctx context.Context, locationID int, temperature float64) (Measurement, error) {
	timer := prometheus.NewTimer(s.metrics.OperationDuration.WithLabelValues(s.backend, "insert"))
	defer timer.ObserveDuration()

	m, err := s.next.Insert(ctx, locationID, temperature)
	s.metrics.OperationsTotal.WithLabelValues(s.backend, "insert", status(err)).Inc()
	return m, err
}

// QueryWindow implements Store.
func (s *Instrumented) QueryWindow(ctx context.Context, since time.Time) ([]Measurement, error) {
	timer := prometheus.NewTimer(s.metrics.OperationDuration.WithLabelValues(s.backend, "query_window"))
	defer timer.ObserveDuration()

	ms, err := s.next.QueryWindow(ctx, since)
	s.metrics.OperationsTotal.WithLabelValues(s.backend, "query_window", status(err)).Inc()
	return ms, err
}

// Close implements Store.
func (s *Instrumented) Close() error {
	return s.next.Close()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
