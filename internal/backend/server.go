// Package backend assembles the tempglobe server: the measurement store, the
// ingestion core, the HTTP and websocket frontend, the gRPC API and the
// optional RabbitMQ submission feed.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"procodus.dev/tempglobe/internal/frontend"
	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/internal/location"
	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/api"
	"procodus.dev/tempglobe/pkg/logger"
	"procodus.dev/tempglobe/pkg/metrics"
	"procodus.dev/tempglobe/pkg/mq"
)

// grpcStopTimeout bounds the graceful drain of in-flight gRPC calls.
const grpcStopTimeout = 10 * time.Second

// Metrics groups the collectors of every server component. Any field may be nil.
type Metrics struct {
	Ingest  *metrics.IngestMetrics
	Store   *metrics.StoreMetrics
	HTTP    *metrics.HTTPMetrics
	Backend *metrics.BackendMetrics
	MQ      *metrics.MQMetrics
}

// NewMetrics creates every collector and registers it with the shared registry.
// It must be called at most once per process.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Ingest:  metrics.NewIngestMetrics(namespace),
		Store:   metrics.NewStoreMetrics(namespace),
		HTTP:    metrics.NewHTTPMetrics(namespace),
		Backend: metrics.NewBackendMetrics(namespace),
		MQ:      metrics.NewMQMetrics(namespace),
	}
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Metrics *Metrics

	// Store configuration
	StoreBackend string
	SQLitePath   string
	PostgresDSN  string

	// Ingestion configuration
	Window       time.Duration
	WriteTimeout time.Duration

	// HTTP configuration
	StaticDir      string
	Title          string
	AllowedOrigins []string
	HTTPPort       int

	// gRPC configuration
	GRPCPort int

	// RabbitMQ feed configuration. The feed is disabled when RabbitMQURL is empty.
	RabbitMQURL string
	QueueName   string
}

// Server represents the tempglobe server process.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	metrics    *Metrics
	store      store.Store
	mqClient   *mq.Client
	grpcServer *grpc.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.StoreBackend == "" {
		return nil, errors.New("store backend cannot be empty")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	if cfg.RabbitMQURL != "" && cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty when the feed is enabled")
	}

	m := cfg.Metrics
	if m == nil {
		m = &Metrics{}
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: m,
	}, nil
}

// Run listens on the configured ports and serves until ctx is canceled, a
// termination signal arrives or a component fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", s.config.HTTPPort, err)
	}

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.GRPCPort))
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("failed to listen on :%d: %w", s.config.GRPCPort, err)
	}

	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve runs every component on the given listeners until ctx is canceled or
// one of them fails, then releases all resources.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	s.logger.Info("starting server", "store", s.config.StoreBackend)

	abort := func(err error) error {
		_ = httpLis.Close()
		_ = grpcLis.Close()
		return errors.Join(err, s.Shutdown())
	}

	st, err := store.Open(ctx, &store.Config{
		Clock:       s.config.Clock,
		Logger:      logger.WithComponent(s.logger, "store"),
		Metrics:     s.metrics.Store,
		Backend:     s.config.StoreBackend,
		SQLitePath:  s.config.SQLitePath,
		PostgresDSN: s.config.PostgresDSN,
	})
	if err != nil {
		return abort(fmt.Errorf("failed to open store: %w", err))
	}
	s.store = st

	svc, err := ingest.NewService(&ingest.Config{
		Locations:    location.Default(),
		Store:        st,
		Logger:       logger.WithComponent(s.logger, "ingest"),
		Clock:        s.config.Clock,
		Metrics:      s.metrics.Ingest,
		Window:       s.config.Window,
		WriteTimeout: s.config.WriteTimeout,
	})
	if err != nil {
		return abort(fmt.Errorf("failed to initialize ingest service: %w", err))
	}

	web, err := frontend.NewServer(&frontend.ServerConfig{
		Logger:         logger.WithComponent(s.logger, "http"),
		Ingest:         svc,
		Metrics:        s.metrics.HTTP,
		StaticDir:      s.config.StaticDir,
		AllowedOrigins: s.config.AllowedOrigins,
		Title:          s.config.Title,
		HTTPPort:       s.config.HTTPPort,
	})
	if err != nil {
		return abort(fmt.Errorf("failed to initialize frontend: %w", err))
	}

	grpcSvc, err := NewTemperatureService(logger.WithComponent(s.logger, "grpc"), svc, s.metrics.Backend)
	if err != nil {
		return abort(fmt.Errorf("failed to initialize gRPC service: %w", err))
	}

	var consumer *Consumer
	if s.config.RabbitMQURL != "" {
		if consumer, err = s.newFeed(svc); err != nil {
			return abort(err)
		}
	}

	s.grpcServer = grpc.NewServer()
	api.RegisterTemperatureServiceServer(s.grpcServer, grpcSvc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return web.Serve(gctx, httpLis)
	})

	g.Go(func() error {
		s.logger.Info("starting gRPC server", "address", grpcLis.Addr().String())
		if err := s.grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("stopping gRPC server")
		grpcSvc.Stop()
		s.stopGRPC()
		return nil
	})

	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	s.logger.Info("server started successfully")

	runErr := g.Wait()
	if runErr != nil {
		s.logger.Error("server stopped with error", "error", runErr)
	}

	return errors.Join(runErr, s.Shutdown())
}

// stopGRPC drains in-flight calls and forces the server down when they do
// not finish within grpcStopTimeout.
func (s *Server) stopGRPC() {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(grpcStopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("gRPC graceful stop timed out, closing remaining calls")
		s.grpcServer.Stop()
		<-done
	}
}

// newFeed connects to RabbitMQ and builds the submission consumer.
func (s *Server) newFeed(svc Submitter) (*Consumer, error) {
	s.mqClient = mq.New(s.config.QueueName, s.config.RabbitMQURL,
		logger.WithComponent(s.logger, "mq"),
		mq.WithMetrics(s.metrics.MQ),
		mq.WithDurableQueue(),
	)

	consumer, err := NewConsumer(&ConsumerConfig{
		Logger:  logger.WithComponent(s.logger, "feed"),
		Client:  s.mqClient,
		Ingest:  svc,
		Metrics: s.metrics.Backend,
		Queue:   s.config.QueueName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize consumer: %w", err)
	}

	return consumer, nil
}

// Shutdown releases the queue connection and the store. It is safe to call
// after a partial start.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down server")

	var shutdownErr error

	if s.mqClient != nil {
		s.logger.Info("closing message queue client")
		if err := s.mqClient.Close(); err != nil && !errors.Is(err, mq.ErrClosed) {
			s.logger.Error("failed to close message queue client", "error", err)
			shutdownErr = fmt.Errorf("message queue close error: %w", err)
		}
		s.mqClient = nil
	}

	if s.store != nil {
		s.logger.Info("closing store")
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; store close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("store close error: %w", err)
			}
		}
		s.store = nil
	}

	if shutdownErr != nil {
		s.logger.Error("server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("server shutdown completed successfully")
	return nil
}
