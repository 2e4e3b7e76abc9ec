package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/tempglobe/internal/location"
	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/metrics"
)

const (
	// DefaultWindow is how far back a snapshot reaches.
	DefaultWindow = 24 * time.Hour
	// DefaultWriteTimeout bounds a single store insert.
	DefaultWriteTimeout = 5 * time.Second
)

// Metric labels for the submission source.
const (
	sourceConnection = "connection"
	sourceFeed       = "feed"
)

// Locations is the registry view the service needs.
type Locations interface {
	LocationChecker
	Get(id int) (location.Location, bool)
	List() []location.Location
}

// Ack is the single terminal answer to a submission.
type Ack struct {
	// Measurement is the stored record for successful submissions.
	Measurement *store.Measurement `json:"-"`
	Reason      Reason             `json:"reason,omitempty"`
	Success     bool               `json:"success"`
}

// Snapshot is the registry plus every measurement inside the window.
type Snapshot struct {
	Locations    []location.Location `json:"locations"`
	Measurements []store.Measurement `json:"measurements"`
}

// Config holds the dependencies of a Service.
type Config struct {
	Locations Locations
	Store     store.Store
	Hub       *Hub
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Metrics   *metrics.IngestMetrics
	// Window defaults to DefaultWindow.
	Window time.Duration
	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Service is the ingestion and fan-out core shared by every transport.
type Service struct {
	locations    Locations
	store        store.Store
	hub          *Hub
	logger       *slog.Logger
	clock        clockwork.Clock
	metrics      *metrics.IngestMetrics
	window       time.Duration
	writeTimeout time.Duration
}

// NewService validates cfg and builds a Service.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("ingest config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Locations == nil {
		return nil, errors.New("locations cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Window < 0 {
		return nil, errors.New("snapshot window cannot be negative")
	}

	if cfg.WriteTimeout < 0 {
		return nil, errors.New("write timeout cannot be negative")
	}

	s := &Service{
		locations:    cfg.Locations,
		store:        cfg.Store,
		hub:          cfg.Hub,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		metrics:      cfg.Metrics,
		window:       cfg.Window,
		writeTimeout: cfg.WriteTimeout,
	}

	if s.hub == nil {
		s.hub = NewHub(cfg.Logger, cfg.Metrics)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.window == 0 {
		s.window = DefaultWindow
	}
	if s.writeTimeout == 0 {
		s.writeTimeout = DefaultWriteTimeout
	}

	return s, nil
}

// OnConnect registers c for broadcasts. History is not replayed; clients
// fetch a Snapshot.
func (s *Service) OnConnect(c Conn) {
	s.hub.Add(c)
}

// OnDisconnect deregisters c. It is safe to call more than once.
func (s *Service) OnDisconnect(c Conn) {
	s.hub.Remove(c)
}

// Connections returns the number of registered connections.
func (s *Service) Connections() int {
	return s.hub.Count()
}

// Submit validates c, stores it and broadcasts the stored measurement to
// every registered connection, the submitter included. It returns exactly
// one Ack. from is nil for connectionless sources.
//
// The store write is detached from ctx: a submitter hanging up never aborts
// an accepted write.
func (s *Service) Submit(ctx context.Context, from Conn, c Candidate) Ack {
	source := sourceFeed
	if from != nil {
		source = sourceConnection
	}

	if s.metrics != nil {
		timer := prometheus.NewTimer(s.metrics.SubmitDuration.WithLabelValues(source))
		defer timer.ObserveDuration()
	}

	v := Validate(s.locations, c)
	if !v.OK {
		s.logger.Debug("submission rejected",
			"reason", v.Reason,
			"session", sessionID(from),
		)
		s.count(source, string(v.Reason))
		return Ack{Reason: v.Reason}
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	m, err := s.store.Insert(wctx, v.LocationID, v.Temperature)
	cancel()

	if err != nil {
		s.logger.Error("failed to store measurement",
			"location_id", v.LocationID,
			"session", sessionID(from),
			"error", err,
		)
		s.count(source, string(ReasonStorageFailure))
		return Ack{Reason: ReasonStorageFailure}
	}

	s.hub.Broadcast(m)
	s.count(source, "accepted")

	loc, _ := s.locations.Get(m.LocationID)
	s.logger.Debug("measurement accepted",
		"measurement_id", m.ID,
		"location", loc.Slug,
		"location_id", m.LocationID,
		"temperature", m.Temperature,
	)

	return Ack{Success: true, Measurement: &m}
}

// Snapshot returns the registry and every measurement newer than now minus
// the window. A storage error yields no partial data.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	since := s.clock.Now().Add(-s.window)

	ms, err := s.store.QueryWindow(ctx, since)
	if err != nil {
		s.countSnapshot("error")
		return Snapshot{}, fmt.Errorf("query measurement window: %w", err)
	}

	if ms == nil {
		ms = []store.Measurement{}
	}

	s.countSnapshot("success")

	return Snapshot{
		Locations:    s.locations.List(),
		Measurements: ms,
	}, nil
}

func (s *Service) count(source, outcome string) {
	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues(source, outcome).Inc()
	}
}

func (s *Service) countSnapshot(status string) {
	if s.metrics != nil {
		s.metrics.SnapshotsTotal.WithLabelValues(status).Inc()
	}
}

func sessionID(c Conn) string {
	if c == nil {
		return ""
	}
	return c.ID()
}
