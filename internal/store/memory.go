package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var errClosed = errors.New("store closed")

// Memory keeps measurements in process memory. Contents are lost on exit.
type Memory struct {
	stamp   stamper
	records []Measurement
	nextID  int64
	mu      sync.Mutex
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		stamp:  stamper{clock: clock},
		nextID: 1,
	}
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, locationID int, temperature float64) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return Measurement{}, storageError("insert measurement", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Measurement{}, storageError("insert measurement", errClosed)
	}

	rec := Measurement{
		ID:          m.nextID,
		LocationID:  locationID,
		Temperature: temperature,
		Timestamp:   m.stamp.next(),
	}
	m.nextID++
	m.records = append(m.records, rec)

	return rec, nil
}

// QueryWindow implements Store.
func (m *Memory) QueryWindow(ctx context.Context, since time.Time) ([]Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("query window", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, storageError("query window", errClosed)
	}

	// records are appended in timestamp order
	cutoff := since.UnixMilli()
	start := sort.Search(len(m.records), func(i int) bool {
		return m.records[i].Timestamp > cutoff
	})

	out := make([]Measurement, len(m.records)-start)
	copy(out, m.records[start:])

	return out, nil
}

// Close implements Store. Further calls fail with ErrStorageFailure.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
