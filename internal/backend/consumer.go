package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/pkg/metrics"
	"procodus.dev/tempglobe/pkg/mq"
)

const consumeRetryDelay = 2 * time.Second

// Consumer status labels.
const (
	statusAccepted  = "accepted"
	statusRejected  = "rejected"
	statusMalformed = "malformed"
	statusRequeued  = "requeued"
)

// Submitter accepts a connectionless submission.
type Submitter interface {
	Submit(ctx context.Context, from ingest.Conn, c ingest.Candidate) ingest.Ack
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger  *slog.Logger
	Client  mq.ClientInterface
	Ingest  Submitter
	Metrics *metrics.BackendMetrics
	Queue   string
}

// Consumer feeds JSON submissions from a queue into the ingestion core.
// Accepted and rejected messages are acked; messages that failed on storage
// are requeued.
type Consumer struct {
	logger  *slog.Logger
	client  mq.ClientInterface
	ingest  Submitter
	metrics *metrics.BackendMetrics
	queue   string
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.Ingest == nil {
		return nil, errors.New("ingest service cannot be nil")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	return &Consumer{
		logger:  cfg.Logger,
		client:  cfg.Client,
		ingest:  cfg.Ingest,
		metrics: cfg.Metrics,
		queue:   cfg.Queue,
	}, nil
}

// Run consumes until ctx is canceled or the client is closed. It starts a
// new consumer whenever the broker channel is replaced.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("starting consumer", "queue", c.queue)

	for {
		if err := c.client.WaitReady(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, mq.ErrClosed) {
				c.logger.Info("consumer stopped")
				return nil
			}
			return fmt.Errorf("wait for queue: %w", err)
		}

		deliveries, err := c.client.Consume()
		if err != nil {
			c.logger.Warn("failed to start consuming, retrying", "error", err, "delay", consumeRetryDelay)

			select {
			case <-ctx.Done():
				c.logger.Info("consumer stopped")
				return nil
			case <-time.After(consumeRetryDelay):
			}
			continue
		}

		c.logger.Info("consumer started, waiting for messages")

		if stopped := c.process(ctx, deliveries); stopped {
			c.logger.Info("consumer stopped")
			return nil
		}

		c.logger.Warn("deliveries channel closed, resubscribing")
	}
}

// process handles deliveries until ctx ends (true) or the channel closes (false).
func (c *Consumer) process(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true

		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.ProcessingDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
	}

	var candidate ingest.Candidate
	if err := json.Unmarshal(d.Body, &candidate); err != nil {
		c.logger.Warn("dropping malformed submission", "error", err, "delivery_tag", d.DeliveryTag)
		c.settle(d, statusMalformed)
		return
	}

	ack := c.ingest.Submit(ctx, nil, candidate)

	switch {
	case ack.Success:
		c.settle(d, statusAccepted)
	case ack.Reason == ingest.ReasonStorageFailure:
		c.settle(d, statusRequeued)
	default:
		c.logger.Debug("dropping rejected submission", "reason", ack.Reason, "delivery_tag", d.DeliveryTag)
		c.settle(d, statusRejected)
	}
}

// settle acks or requeues d according to status and records it.
func (c *Consumer) settle(d amqp.Delivery, status string) {
	var err error
	if status == statusRequeued {
		err = d.Nack(false, true)
	} else {
		err = d.Ack(false)
	}
	if err != nil {
		c.logger.Error("failed to settle message", "status", status, "delivery_tag", d.DeliveryTag, "error", err)
	}

	if c.metrics != nil {
		c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queue, status).Inc()
	}
}
