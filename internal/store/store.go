// Package store persists temperature measurements and answers time-window queries.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"procodus.dev/tempglobe/pkg/metrics"
)

// ErrStorageFailure is wrapped by every error a Store returns for a failed read or write.
var ErrStorageFailure = errors.New("storage failure")

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Measurement is a single persisted temperature reading.
type Measurement struct {
	ID          int64   `json:"id"`
	LocationID  int     `json:"locationId"`
	Temperature float64 `json:"temperature"`
	// Timestamp is the server receive time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// Time returns Timestamp as a UTC time.Time.
func (m Measurement) Time() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// Store is an append-only measurement log.
//
// Insert assigns the timestamp and id. Timestamps never decrease across
// successful inserts. QueryWindow returns every measurement whose timestamp
// is strictly after since.
type Store interface {
	Insert(ctx context.Context, locationID int, temperature float64) (Measurement, error)
	QueryWindow(ctx context.Context, since time.Time) ([]Measurement, error)
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.StoreMetrics
	// Backend is one of BackendMemory, BackendSQLite or BackendPostgres.
	Backend     string
	SQLitePath  string
	PostgresDSN string
}

// Open builds the configured backend, wrapping it with metrics when cfg.Metrics is set.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("store config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var (
		s   Store
		err error
	)

	switch cfg.Backend {
	case BackendMemory:
		s = NewMemory(clock)
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("sqlite path cannot be empty")
		}
		s, err = OpenSQLite(ctx, cfg.SQLitePath, clock, cfg.Logger)
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres DSN cannot be empty")
		}
		s, err = OpenPostgres(ctx, cfg.PostgresDSN, clock, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("measurement store ready", "backend", cfg.Backend)

	if cfg.Metrics != nil {
		return Instrument(s, cfg.Backend, cfg.Metrics), nil
	}

	return s, nil
}

// stamper hands out non-decreasing millisecond timestamps. Callers serialize access.
type stamper struct {
	clock clockwork.Clock
	last  int64
}

func (s *stamper) next() int64 {
	now := s.clock.Now().UnixMilli()
	if now < s.last {
		now = s.last
	}
	s.last = now
	return now
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}
