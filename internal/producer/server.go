package producer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"procodus.dev/tempglobe/internal/location"
	"procodus.dev/tempglobe/pkg/generator"
	"procodus.dev/tempglobe/pkg/metrics"
	"procodus.dev/tempglobe/pkg/mq"
)

// ServerConfig holds the configuration for the producer server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// QueueName is the submission feed queue
	QueueName string
	// Interval is the time between readings of one producer
	Interval time.Duration
	// ProducerCount is the number of concurrent producers
	ProducerCount int
	// Seed makes the generated readings reproducible. Zero seeds randomly.
	Seed uint64
	// Clock drives the publish ticker. Defaults to the real clock.
	Clock clockwork.Clock
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.ProducerMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
	// NewClient overrides how each producer's queue client is created.
	NewClient func(id int) mq.ClientInterface
}

// Server manages multiple producer instances.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	clock     clockwork.Clock
	producers []*Producer
	clients   []mq.ClientInterface
	wg        sync.WaitGroup
	metrics   *metrics.ProducerMetrics
	closeOnce sync.Once
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
	errQueueRequired        = errors.New("queue name is required")
	errURLRequired          = errors.New("rabbitmq URL is required")
)

// NewServer creates a new producer server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.QueueName == "" {
		return nil, errQueueRequired
	}

	if cfg.NewClient == nil && cfg.RabbitMQURL == "" {
		return nil, errURLRequired
	}

	s := &Server{
		config:    cfg,
		clock:     cfg.Clock,
		producers: make([]*Producer, 0, cfg.ProducerCount),
		clients:   make([]mq.ClientInterface, 0, cfg.ProducerCount),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	newClient := cfg.NewClient
	if newClient == nil {
		newClient = func(id int) mq.ClientInterface {
			return mq.New(cfg.QueueName, cfg.RabbitMQURL,
				cfg.Logger.With(slog.String("component", "mq-client"), slog.Int("producer_id", id)),
				mq.WithMetrics(cfg.MQMetrics),
				mq.WithDurableQueue(),
			)
		}
	}

	locations := location.Default().List()

	for i := range cfg.ProducerCount {
		seed := cfg.Seed
		if seed != 0 {
			seed += uint64(i)
		}

		client := newClient(i)
		p, err := NewProducer(client, generator.New(locations, seed), s.clock, cfg.Metrics)
		if err != nil {
			s.closeClients()
			return nil, err
		}

		s.clients = append(s.clients, client)
		s.producers = append(s.producers, p)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"queue", cfg.QueueName,
		)
	}

	return s, nil
}

// Run starts all producers and blocks until ctx is canceled or a
// termination signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i, p := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, i, p)
	}

	s.logger.Info("producer server started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
	)

	<-ctx.Done()
	s.logger.Info("shutting down producers")

	s.wg.Wait()
	s.closeClients()

	s.logger.Info("producer server stopped")
	return nil
}

// runProducer publishes one reading per interval until ctx ends.
func (s *Server) runProducer(ctx context.Context, id int, p *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log := s.logger.With(slog.Int("producer_id", id))
	log.Info("producer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("producer shutting down")
			return

		case <-ticker.Chan():
			reading, err := p.Publish(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Error("failed to publish reading", "error", err)
				continue
			}

			log.Debug("reading published",
				"location", reading.Location.Slug,
				"temperature", reading.Temperature,
			)
		}
	}
}

// closeClients closes every queue client once.
func (s *Server) closeClients() {
	s.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for i, c := range s.clients {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.Close(); err != nil && !errors.Is(err, mq.ErrClosed) {
					s.logger.Error("failed to close MQ client", "producer_id", i, "error", err)
					return
				}
				s.logger.Debug("MQ client closed", "producer_id", i)
			}()
		}
		wg.Wait()
	})
}

// Shutdown closes every queue client. Run returns once its context ends.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")
	s.closeClients()
	return nil
}
