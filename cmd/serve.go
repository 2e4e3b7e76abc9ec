package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/tempglobe/internal/backend"
	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tempglobe server",
	Long: `Run the tempglobe server that:
- Serves the page shell, static assets and GET /data
- Accepts submissions and pushes updates over the /ws websocket
- Serves the gRPC TemperatureService
- Optionally consumes submissions from a RabbitMQ queue`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("store", store.BackendSQLite, "measurement store ("+strings.Join(storeBackends, ", ")+")")
	serveCmd.Flags().String("sqlite-path", "data/tempglobe.db", "SQLite database file")
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN (overrides the db-* flags)")
	serveCmd.Flags().String("db-host", "", "PostgreSQL host")
	serveCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serveCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serveCmd.Flags().String("db-password", "", "PostgreSQL password")
	serveCmd.Flags().String("db-name", "tempglobe", "PostgreSQL database name")
	serveCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serveCmd.Flags().Int("http-port", 3000, "HTTP server port (also read from PORT)")
	serveCmd.Flags().String("static-dir", "dist", "directory holding the client bundle")
	serveCmd.Flags().String("title", "tempglobe", "page title")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "websocket origins to accept (default any)")
	serveCmd.Flags().Int("grpc-port", 9090, "gRPC server port")
	serveCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL; enables the submission feed")
	serveCmd.Flags().String("queue-name", "submissions", "RabbitMQ queue for the submission feed")
	serveCmd.Flags().Duration("window", ingest.DefaultWindow, "how far back GET /data reaches")
	serveCmd.Flags().Duration("write-timeout", ingest.DefaultWriteTimeout, "timeout of a single store write")

	_ = viper.BindPFlag("serve.store.backend", serveCmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("serve.store.sqlite_path", serveCmd.Flags().Lookup("sqlite-path"))
	_ = viper.BindPFlag("serve.store.postgres_dsn", serveCmd.Flags().Lookup("postgres-dsn"))
	_ = viper.BindPFlag("serve.store.postgres.host", serveCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("serve.store.postgres.port", serveCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("serve.store.postgres.user", serveCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("serve.store.postgres.password", serveCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("serve.store.postgres.name", serveCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("serve.store.postgres.sslmode", serveCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("serve.http.port", serveCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("serve.http.static_dir", serveCmd.Flags().Lookup("static-dir"))
	_ = viper.BindPFlag("serve.http.title", serveCmd.Flags().Lookup("title"))
	_ = viper.BindPFlag("serve.http.allowed_origins", serveCmd.Flags().Lookup("allowed-origins"))
	_ = viper.BindPFlag("serve.grpc.port", serveCmd.Flags().Lookup("grpc-port"))
	_ = viper.BindPFlag("serve.rabbitmq.url", serveCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("serve.rabbitmq.queue_name", serveCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("serve.window", serveCmd.Flags().Lookup("window"))
	_ = viper.BindPFlag("serve.write_timeout", serveCmd.Flags().Lookup("write-timeout"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting tempglobe server")

	cfg, err := loadServeConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	server, err := backend.NewServer(&backend.ServerConfig{
		Logger:         logger,
		Metrics:        backend.NewMetrics(metrics.Namespace),
		StoreBackend:   cfg.StoreBackend,
		SQLitePath:     cfg.SQLitePath,
		PostgresDSN:    cfg.PostgresDSN,
		Window:         cfg.Window,
		WriteTimeout:   cfg.WriteTimeout,
		StaticDir:      cfg.StaticDir,
		Title:          cfg.Title,
		AllowedOrigins: cfg.AllowedOrigins,
		HTTPPort:       cfg.HTTPPort,
		GRPCPort:       cfg.GRPCPort,
		RabbitMQURL:    cfg.RabbitMQURL,
		QueueName:      cfg.QueueName,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return err
	}

	logger.Info("server configuration",
		"store", cfg.StoreBackend,
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"static_dir", cfg.StaticDir,
		"feed_enabled", cfg.RabbitMQURL != "",
		"queue", cfg.QueueName,
		"window", cfg.Window.String(),
	)

	start := time.Now()
	if err := server.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("server stopped", "uptime", time.Since(start).Round(time.Second).String())
	return nil
}
