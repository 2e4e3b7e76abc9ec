// Package producer publishes synthetic temperature submissions to the
// RabbitMQ feed consumed by the server.
package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/tempglobe/pkg/generator"
	"procodus.dev/tempglobe/pkg/metrics"
	"procodus.dev/tempglobe/pkg/mq"
)

// Producer draws readings from a generator and pushes them to a queue.
type Producer struct {
	client  mq.ClientInterface
	gen     *generator.Generator
	clock   clockwork.Clock
	metrics *metrics.ProducerMetrics
}

// NewProducer creates a Producer. clock and m may be nil.
func NewProducer(client mq.ClientInterface, gen *generator.Generator, clock clockwork.Clock, m *metrics.ProducerMetrics) (*Producer, error) {
	if client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if gen == nil {
		return nil, errors.New("generator cannot be nil")
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Producer{
		client:  client,
		gen:     gen,
		clock:   clock,
		metrics: m,
	}, nil
}

// Publish generates one reading for the current time and pushes it.
func (p *Producer) Publish(ctx context.Context) (generator.Reading, error) {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.GenerationDuration)
		defer timer.ObserveDuration()
	}

	reading := p.gen.Next(p.clock.Now())

	if err := p.client.PushJSON(ctx, reading); err != nil {
		p.countFailure(err)
		return reading, fmt.Errorf("publish reading for %s: %w", reading.Location.Slug, err)
	}

	if p.metrics != nil {
		p.metrics.SubmissionsGenerated.WithLabelValues(reading.Location.Slug).Inc()
	}

	return reading, nil
}

func (p *Producer) countFailure(err error) {
	if p.metrics == nil {
		return
	}

	reason := "push_error"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "context_canceled"
	case errors.Is(err, mq.ErrMaxRetriesExceeded):
		reason = "max_retries_exceeded"
	case errors.Is(err, mq.ErrClosed):
		reason = "client_closed"
	}

	p.metrics.PublishFailures.WithLabelValues(reason).Inc()
}
