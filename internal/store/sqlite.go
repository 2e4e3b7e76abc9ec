package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	_ "modernc.org/sqlite"
)

// SQLite stores measurements in a single-file SQLite database.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	stamp  stamper
	mu     sync.Mutex
}

// OpenSQLite opens (creating if needed) the database at path and ensures the schema exists.
func OpenSQLite(ctx context.Context, path string, clock clockwork.Clock, logger *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLite{
		db:     db,
		logger: logger,
		stamp:  stamper{clock: clock},
	}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("sqlite store opened", "path", path, "last_timestamp", s.stamp.last)

	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			location_id INTEGER NOT NULL,
			temperature REAL NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_timestamp ON measurements(timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	// carry the high-water mark across restarts
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM measurements`).Scan(&last); err != nil {
		return fmt.Errorf("read last timestamp: %w", err)
	}
	s.stamp.last = last.Int64

	return nil
}

// Insert implements Store.
func (s *SQLite) Insert(ctx context.Context, locationID int, temperature float64) (Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Measurement{
		LocationID:  locationID,
		Temperature: temperature,
		Timestamp:   s.stamp.next(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (location_id, temperature, timestamp) VALUES (?, ?, ?)`,
		rec.LocationID, rec.Temperature, rec.Timestamp,
	)
	if err != nil {
		return Measurement{}, storageError("insert measurement", err)
	}

	rec.ID, err = res.LastInsertId()
	if err != nil {
		return Measurement{}, storageError("insert measurement", err)
	}

	return rec, nil
}

// QueryWindow implements Store.
func (s *SQLite) QueryWindow(ctx context.Context, since time.Time) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, temperature, timestamp FROM measurements WHERE timestamp > ? ORDER BY timestamp, id`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, storageError("query window", err)
	}
	defer rows.Close()

	out := make([]Measurement, 0)
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.ID, &m.LocationID, &m.Temperature, &m.Timestamp); err != nil {
			return nil, storageError("query window", err)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("query window", err)
	}

	return out, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
