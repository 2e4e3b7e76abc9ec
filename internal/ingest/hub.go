package ingest

import (
	"log/slog"
	"sync"

	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/metrics"
)

// Conn is a live client session that receives broadcasts. The transport owns
// it; the hub only keeps a reference while it is registered. Implementations
// must be comparable, which pointer receivers satisfy.
type Conn interface {
	// ID identifies the session in logs.
	ID() string
	// Deliver queues m for the client without blocking. It returns false when
	// the client's outbox is full or already closed.
	Deliver(m store.Measurement) bool
	// Close tears down the transport. It must not block on the hub.
	Close()
}

// Hub is the set of connections that receive measurement broadcasts.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.IngestMetrics
	conns   map[Conn]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub. m may be nil.
func NewHub(logger *slog.Logger, m *metrics.IngestMetrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		conns:   make(map[Conn]struct{}),
	}
}

// Add registers c. Adding a registered connection is a no-op.
func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		return
	}
	h.conns[c] = struct{}{}

	if h.metrics != nil {
		h.metrics.ConnectionsActive.Inc()
	}

	h.logger.Info("client connected", "session", c.ID(), "total", len(h.conns))
}

// Remove deregisters c and reports whether it was registered.
// Removing an unknown or already removed connection is a no-op.
func (h *Hub) Remove(c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	delete(h.conns, c)

	if h.metrics != nil {
		h.metrics.ConnectionsActive.Dec()
	}

	h.logger.Info("client disconnected", "session", c.ID(), "remaining", len(h.conns))
	return true
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Broadcast delivers m to every registered connection and returns how many
// accepted it. Connections that cannot keep up are evicted and closed so
// they resync from a snapshot instead of silently missing events.
func (h *Hub) Broadcast(m store.Measurement) int {
	var slow []Conn
	delivered := 0

	h.mu.RLock()
	for c := range h.conns {
		if c.Deliver(m) {
			delivered++
			continue
		}
		slow = append(slow, c)
	}
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.BroadcastsTotal.Inc()
	}

	for _, c := range slow {
		if !h.Remove(c) {
			continue
		}
		h.logger.Warn("evicting slow client", "session", c.ID())
		if h.metrics != nil {
			h.metrics.EvictionsTotal.Inc()
		}
		c.Close()
	}

	h.logger.Debug("broadcast measurement", "measurement_id", m.ID, "recipients", delivered)

	return delivered
}
