package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresConfig holds the PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// DSN renders the config as a libpq keyword/value connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// measurementRecord is the gorm model behind the measurements table.
type measurementRecord struct {
	ID          int64   `gorm:"primaryKey"`
	LocationID  int     `gorm:"not null"`
	Temperature float64 `gorm:"not null"`
	Timestamp   int64   `gorm:"index:idx_measurements_timestamp;not null"`
}

// TableName specifies the table name for measurementRecord.
func (measurementRecord) TableName() string {
	return "measurements"
}

func (r measurementRecord) measurement() Measurement {
	return Measurement{
		ID:          r.ID,
		LocationID:  r.LocationID,
		Temperature: r.Temperature,
		Timestamp:   r.Timestamp,
	}
}

// Postgres stores measurements in PostgreSQL through gorm.
type Postgres struct {
	db     *gorm.DB
	logger *slog.Logger
	stamp  stamper
	mu     sync.Mutex
}

// OpenPostgres connects to dsn, configures the pool and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, clock clockwork.Clock, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return clock.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&measurementRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}

	s := &Postgres{
		db:     db,
		logger: logger,
		stamp:  stamper{clock: clock},
	}

	// carry the high-water mark across restarts
	if err := db.WithContext(ctx).Model(&measurementRecord{}).
		Select(`COALESCE(MAX("timestamp"), 0)`).
		Scan(&s.stamp.last).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}

	logger.Info("postgres store opened", "last_timestamp", s.stamp.last)

	return s, nil
}

// Insert implements Store.
func (s *Postgres) Insert(ctx context.Context, locationID int, temperature float64) (Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &measurementRecord{
		LocationID:  locationID,
		Temperature: temperature,
		Timestamp:   s.stamp.next(),
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return Measurement{}, storageError("insert measurement", err)
	}

	return rec.measurement(), nil
}

// QueryWindow implements Store.
func (s *Postgres) QueryWindow(ctx context.Context, since time.Time) ([]Measurement, error) {
	var recs []measurementRecord
	err := s.db.WithContext(ctx).
		Where(`"timestamp" > ?`, since.UnixMilli()).
		Order(`"timestamp", id`).
		Find(&recs).Error
	if err != nil {
		return nil, storageError("query window", err)
	}

	out := make([]Measurement, len(recs))
	for i, r := range recs {
		out[i] = r.measurement()
	}

	return out, nil
}

// Close implements Store.
func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.logger.Info("database connection closed")
	return nil
}
