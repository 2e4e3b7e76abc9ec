// Package mock provides an in-memory mq.ClientInterface for tests.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/tempglobe/pkg/mq"
)

// MockClient records pushes and serves deliveries from a channel.
type MockClient struct {
	mu sync.Mutex

	// PushFunc overrides Push and PushJSON when set.
	PushFunc func(ctx context.Context, data []byte) error
	// PushError is returned by Push when PushFunc is nil.
	PushError error
	// Pushed holds the payload of every Push and PushJSON call.
	Pushed [][]byte

	UnsafePushError error
	UnsafePushCalls int

	// ConsumeFunc overrides Consume when set.
	ConsumeFunc func() (<-chan amqp.Delivery, error)
	// Deliveries is returned by Consume when ConsumeFunc is nil.
	Deliveries chan amqp.Delivery
	// ConsumeError is returned by Consume when ConsumeFunc is nil.
	ConsumeError error
	ConsumeCalls int

	// ReadyError is returned by WaitReady.
	ReadyError error

	CloseError error
	CloseCalls int
}

// NewMockClient returns a client whose calls all succeed.
func NewMockClient() *MockClient {
	return &MockClient{
		Deliveries: make(chan amqp.Delivery),
	}
}

// Push implements mq.ClientInterface.
func (m *MockClient) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.Pushed = append(m.Pushed, data)
	fn, err := m.PushFunc, m.PushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, data)
	}
	return err
}

// PushJSON implements mq.ClientInterface.
func (m *MockClient) PushJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Push(ctx, data)
}

// UnsafePush implements mq.ClientInterface.
func (m *MockClient) UnsafePush(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnsafePushCalls++
	if m.UnsafePushError == nil {
		m.Pushed = append(m.Pushed, data)
	}
	return m.UnsafePushError
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	m.ConsumeCalls++
	fn, deliveries, err := m.ConsumeFunc, m.Deliveries, m.ConsumeError
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

// WaitReady implements mq.ClientInterface.
func (m *MockClient) WaitReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadyError
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// Messages returns a copy of every pushed payload.
func (m *MockClient) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.Pushed...)
}

// Acknowledger records the outcome of mock deliveries.
type Acknowledger struct {
	mu      sync.Mutex
	Acked   []uint64
	Nacked  []uint64
	Requeue []bool
}

// Ack implements amqp.Acknowledger.
func (a *Acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acked = append(a.Acked, tag)
	return nil
}

// Nack implements amqp.Acknowledger.
func (a *Acknowledger) Nack(tag uint64, _, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacked = append(a.Nacked, tag)
	a.Requeue = append(a.Requeue, requeue)
	return nil
}

// Reject implements amqp.Acknowledger.
func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Outcomes returns copies of the acked and nacked delivery tags.
func (a *Acknowledger) Outcomes() (acked, nacked []uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.Acked...), append([]uint64(nil), a.Nacked...)
}

// Delivery builds a delivery carrying body whose outcome is recorded on a.
func (a *Acknowledger) Delivery(tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: a,
		DeliveryTag:  tag,
		ContentType:  "application/json",
		Body:         body,
	}
}

var (
	_ mq.ClientInterface = (*MockClient)(nil)
	_ amqp.Acknowledger  = (*Acknowledger)(nil)
)
