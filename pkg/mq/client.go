// Package mq is a RabbitMQ client that keeps one queue usable across
// broker restarts. It reconnects in the background and confirms publishes.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/tempglobe/pkg/metrics"
)

const (
	reconnectDelay = 5 * time.Second
	reInitDelay    = 2 * time.Second

	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultMaxAttempts    = 5
	backoffMultiplier     = 2

	readyPollInterval = 50 * time.Millisecond

	contentTypeJSON = "application/json"
)

var (
	// ErrNotConnected is returned when no channel is currently open.
	ErrNotConnected = errors.New("not connected to a server")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client is closed")
	// ErrMaxRetriesExceeded is returned by Push when every attempt failed.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	// ErrNotAcknowledged is returned by a single publish the broker nacked.
	ErrNotAcknowledged = errors.New("publish not acknowledged by broker")
)

// Option configures a Client.
type Option func(*Client)

// WithMetrics records publish and connection metrics on m.
func WithMetrics(m *metrics.MQMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDurableQueue declares the queue as durable.
func WithDurableQueue() Option {
	return func(c *Client) { c.durable = true }
}

// WithRetry overrides the Push retry policy.
func WithRetry(initial, maxBackoff time.Duration, attempts int) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = maxBackoff
		c.maxAttempts = attempts
	}
}

// Client publishes to and consumes from a single queue.
type Client struct {
	mu              sync.Mutex
	logger          *slog.Logger
	metrics         *metrics.MQMetrics
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queue           string
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	maxAttempts     int
	durable         bool
	ready           bool
}

// New returns a Client for queue and starts connecting to addr in the background.
func New(queue, addr string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		logger:         logger.With(slog.String("queue", queue)),
		queue:          queue,
		done:           make(chan struct{}),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		maxAttempts:    defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.handleReconnect(addr)
	return c
}

// Queue returns the queue name.
func (c *Client) Queue() string {
	return c.queue
}

func (c *Client) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Client) setReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()

	if c.metrics != nil {
		if ready {
			c.metrics.ConnectionStatus.Set(1)
		} else {
			c.metrics.ConnectionStatus.Set(0)
		}
	}
}

// handleReconnect dials until it succeeds, then hands over to handleReInit
// until the connection drops.
func (c *Client) handleReconnect(addr string) {
	for {
		c.setReady(false)
		c.logger.Info("attempting to connect")

		if c.metrics != nil {
			c.metrics.ReconnectAttempts.Inc()
		}

		conn, err := amqp.Dial(addr)
		if err != nil {
			c.logger.Warn("failed to connect, retrying", "error", err, "delay", reconnectDelay)

			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		c.changeConnection(conn)
		c.logger.Info("connected")

		if closed := c.handleReInit(conn); closed {
			return
		}
	}
}

// handleReInit opens the channel and reopens it after channel errors. It
// returns true once the client is closed and false when the connection dropped.
func (c *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		c.setReady(false)

		if err := c.init(conn); err != nil {
			c.logger.Warn("failed to initialize channel, retrying", "error", err)

			select {
			case <-c.done:
				return true
			case <-c.notifyConnClose:
				c.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-c.done:
			return true
		case <-c.notifyConnClose:
			c.logger.Info("connection closed, reconnecting")
			return false
		case <-c.notifyChanClose:
			c.logger.Info("channel closed, reinitializing")
		}
	}
}

// init opens a confirming channel and declares the queue.
func (c *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.queue,
		c.durable,
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %q: %w", c.queue, err)
	}

	c.changeChannel(ch)
	c.setReady(true)
	c.logger.Info("channel ready")

	return nil
}

func (c *Client) changeConnection(conn *amqp.Connection) {
	c.connection = conn
	c.notifyConnClose = make(chan *amqp.Error, 1)
	c.connection.NotifyClose(c.notifyConnClose)
}

func (c *Client) changeChannel(ch *amqp.Channel) {
	c.channel = ch
	c.notifyChanClose = make(chan *amqp.Error, 1)
	c.notifyConfirm = make(chan amqp.Confirmation, 1)
	c.channel.NotifyClose(c.notifyChanClose)
	c.channel.NotifyPublish(c.notifyConfirm)
}

// WaitReady blocks until a channel is open, the client is closed or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if c.isReady() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case <-ticker.C:
		}
	}
}

// Push publishes data and waits for the broker to confirm it. Failed
// attempts, including the client being disconnected, are retried with
// exponential backoff up to the configured attempt limit.
func (c *Client) Push(ctx context.Context, data []byte) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.PushDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
	}

	backoff := c.initialBackoff

	for attempt := 0; ; attempt++ {
		if attempt >= c.maxAttempts {
			c.logger.Error("giving up on push", "attempts", attempt)
			c.countFailure("max_retries_exceeded")
			return ErrMaxRetriesExceeded
		}

		err := c.publishConfirmed(ctx, data)
		if err == nil {
			if c.metrics != nil {
				c.metrics.MessagesPushed.WithLabelValues(c.queue).Inc()
			}
			return nil
		}

		if ctx.Err() != nil {
			c.countFailure("context_canceled")
			return ctx.Err()
		}

		c.logger.Debug("push attempt failed", "error", err, "attempt", attempt, "backoff", backoff)

		select {
		case <-ctx.Done():
			c.countFailure("context_canceled")
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case <-time.After(backoff):
		}

		backoff = min(backoff*backoffMultiplier, c.maxBackoff)
	}
}

// PushJSON marshals v and pushes it.
func (c *Client) PushJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.Push(ctx, data)
}

func (c *Client) publishConfirmed(ctx context.Context, data []byte) error {
	if err := c.UnsafePush(ctx, data); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case confirm := <-c.notifyConfirm:
		if !confirm.Ack {
			return ErrNotAcknowledged
		}
		return nil
	}
}

// UnsafePush publishes data without waiting for a confirmation.
func (c *Client) UnsafePush(ctx context.Context, data []byte) error {
	if !c.isReady() {
		return ErrNotConnected
	}

	return c.channel.PublishWithContext(
		ctx,
		"", // default exchange
		c.queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: c.deliveryMode(),
			Timestamp:    time.Now(),
			Body:         data,
		},
	)
}

func (c *Client) deliveryMode() uint8 {
	if c.durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

// Consume starts a manual-ack consumer on the queue. The returned channel
// closes when the underlying channel does; callers re-Consume after
// WaitReady. Every delivery must be acked or nacked.
func (c *Client) Consume() (<-chan amqp.Delivery, error) {
	if !c.isReady() {
		return nil, ErrNotConnected
	}

	if err := c.channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

// Close stops reconnecting and closes the channel and connection if open.
// Closing twice returns ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	close(c.done)

	if !c.ready {
		return nil
	}
	c.ready = false

	if c.metrics != nil {
		c.metrics.ConnectionStatus.Set(0)
	}

	return errors.Join(c.channel.Close(), c.connection.Close())
}

func (c *Client) countFailure(reason string) {
	if c.metrics != nil {
		c.metrics.PushFailures.WithLabelValues(c.queue, reason).Inc()
	}
}
