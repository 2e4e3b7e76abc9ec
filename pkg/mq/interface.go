package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the queue surface used by producers and consumers.
type ClientInterface interface {
	// Push publishes data and waits for a broker confirmation, retrying
	// with backoff.
	Push(ctx context.Context, data []byte) error

	// PushJSON marshals v and pushes it.
	PushJSON(ctx context.Context, v any) error

	// UnsafePush publishes data without waiting for a confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume starts a manual-ack consumer. Deliveries must be acked or nacked.
	Consume() (<-chan amqp.Delivery, error)

	// WaitReady blocks until the client can publish and consume.
	WaitReady(ctx context.Context) error

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
