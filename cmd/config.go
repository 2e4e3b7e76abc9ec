package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/logger"
)

const envPrefix = "TEMPGLOBE"

var validate = validator.New(validator.WithRequiredStructEnabled())

// InitConfig loads a .env file if present, then configures Viper to read
// config.yaml and TEMPGLOBE_* environment variables. The platform PORT
// variable sets the HTTP port when TEMPGLOBE_SERVE_HTTP_PORT is unset.
func InitConfig(cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/tempglobe/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("serve.http.port", envPrefix+"_SERVE_HTTP_PORT", "PORT"); err != nil {
		return fmt.Errorf("failed to bind PORT: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.New(&logger.Config{
		Output: os.Stdout,
		Level:  logger.ParseLevel(viper.GetString("log.level")),
		Format: logger.ParseFormat(viper.GetString("log.format")),
	})
}

// ServeConfig is the assembled configuration of the serve command.
type ServeConfig struct {
	StoreBackend   string        `validate:"oneof=memory sqlite postgres"`
	SQLitePath     string        `validate:"required_if=StoreBackend sqlite"`
	PostgresDSN    string        `validate:"required_if=StoreBackend postgres"`
	StaticDir      string
	Title          string        `validate:"max=120"`
	AllowedOrigins []string      `validate:"dive,http_url"`
	RabbitMQURL    string        `validate:"omitempty,url"`
	QueueName      string        `validate:"required_with=RabbitMQURL"`
	Window         time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	HTTPPort       int           `validate:"min=1,max=65535"`
	GRPCPort       int           `validate:"min=1,max=65535,nefield=HTTPPort"`
}

// loadServeConfig reads the serve settings from Viper and validates them.
func loadServeConfig() (*ServeConfig, error) {
	cfg := &ServeConfig{
		StoreBackend:   strings.ToLower(viper.GetString("serve.store.backend")),
		SQLitePath:     viper.GetString("serve.store.sqlite_path"),
		PostgresDSN:    postgresDSN(),
		StaticDir:      viper.GetString("serve.http.static_dir"),
		Title:          viper.GetString("serve.http.title"),
		AllowedOrigins: viper.GetStringSlice("serve.http.allowed_origins"),
		RabbitMQURL:    viper.GetString("serve.rabbitmq.url"),
		QueueName:      viper.GetString("serve.rabbitmq.queue_name"),
		Window:         viper.GetDuration("serve.window"),
		WriteTimeout:   viper.GetDuration("serve.write_timeout"),
		HTTPPort:       viper.GetInt("serve.http.port"),
		GRPCPort:       viper.GetInt("serve.grpc.port"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid serve configuration: %w", err)
	}

	return cfg, nil
}

// postgresDSN returns serve.store.postgres_dsn or, when it is empty and a
// database host is set, a DSN built from the serve.store.postgres.* keys.
func postgresDSN() string {
	if dsn := viper.GetString("serve.store.postgres_dsn"); dsn != "" {
		return dsn
	}

	host := viper.GetString("serve.store.postgres.host")
	if host == "" {
		return ""
	}

	return store.PostgresConfig{
		Host:     host,
		Port:     viper.GetInt("serve.store.postgres.port"),
		User:     viper.GetString("serve.store.postgres.user"),
		Password: viper.GetString("serve.store.postgres.password"),
		DBName:   viper.GetString("serve.store.postgres.name"),
		SSLMode:  viper.GetString("serve.store.postgres.sslmode"),
	}.DSN()
}

// storeBackends lists the accepted --store values.
var storeBackends = []string{store.BackendMemory, store.BackendSQLite, store.BackendPostgres}
