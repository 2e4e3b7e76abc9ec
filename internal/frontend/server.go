// Package frontend serves the browser-facing surface: the page shell, static
// assets, the snapshot endpoint and the websocket submission channel.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/pkg/metrics"
)

// Ingestor is the part of ingest.Service the web surface drives.
type Ingestor interface {
	Submit(ctx context.Context, from ingest.Conn, c ingest.Candidate) ingest.Ack
	Snapshot(ctx context.Context) (ingest.Snapshot, error)
	OnConnect(c ingest.Conn)
	OnDisconnect(c ingest.Conn)
	Connections() int
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger  *slog.Logger
	Ingest  Ingestor
	Metrics *metrics.HTTPMetrics

	// StaticDir holds the built client bundle. An index.html inside it
	// replaces the built-in page shell.
	StaticDir string

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	// Title is shown by the built-in page shell.
	Title string

	HTTPPort int
}

// Server represents the frontend HTTP server.
type Server struct {
	logger     *slog.Logger
	ingest     Ingestor
	metrics    *metrics.HTTPMetrics
	httpServer *http.Server
	upgrader   websocket.Upgrader
	config     *ServerConfig
}

// NewServer creates a new frontend Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Ingest == nil {
		return nil, errors.New("ingest service cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.Title == "" {
		cfg.Title = "tempglobe"
	}

	s := &Server{
		logger:  cfg.Logger,
		ingest:  cfg.Ingest,
		metrics: cfg.Metrics,
		config:  cfg,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

// Handler returns the router. It is exposed so tests can mount it on httptest.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Run serves HTTP until ctx is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", s.config.HTTPPort, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves HTTP on lis until ctx is canceled or serving fails.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info("starting HTTP server", "address", lis.Addr().String())

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, stopping HTTP server")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown HTTP server", "error", err)
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /health", s.instrument("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /data", s.instrument("/data", http.HandlerFunc(s.handleData)))

	// hijacked connections are not instrumented as requests
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	mux.Handle("GET /{$}", s.instrument("/", http.HandlerFunc(s.handleIndex)))
	mux.Handle("GET /", s.instrument("static", s.staticHandler()))

	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, r.Header.Get("Origin"))
}
