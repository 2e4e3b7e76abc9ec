package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/api"
	"procodus.dev/tempglobe/pkg/metrics"
)

// watchBuffer is the number of measurements a Watch stream may lag behind.
const watchBuffer = 64

// Ingestor is the part of ingest.Service the backend transports drive.
type Ingestor interface {
	Submit(ctx context.Context, from ingest.Conn, c ingest.Candidate) ingest.Ack
	Snapshot(ctx context.Context) (ingest.Snapshot, error)
	OnConnect(c ingest.Conn)
	OnDisconnect(c ingest.Conn)
}

// TemperatureService implements api.TemperatureServiceServer on top of the
// ingestion core.
type TemperatureService struct {
	logger   *slog.Logger
	ingest   Ingestor
	metrics  *metrics.BackendMetrics
	stop     chan struct{}
	stopOnce sync.Once
	watchers atomic.Uint64
}

// NewTemperatureService creates a TemperatureService. m may be nil.
func NewTemperatureService(logger *slog.Logger, svc Ingestor, m *metrics.BackendMetrics) (*TemperatureService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if svc == nil {
		return nil, errors.New("ingest service cannot be nil")
	}

	return &TemperatureService{
		logger:  logger,
		ingest:  svc,
		metrics: m,
		stop:    make(chan struct{}),
	}, nil
}

// Stop ends every open Watch stream with Unavailable. Unary calls are not
// affected. It is safe to call more than once.
func (s *TemperatureService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Submit validates and stores one reading. Rejections are reported in the
// response, not as RPC errors, like the websocket acknowledgement.
func (s *TemperatureService) Submit(ctx context.Context, req *api.SubmitRequest) (*api.SubmitResponse, error) {
	done := s.track("Submit")

	if req == nil {
		done("invalid")
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	ack := s.ingest.Submit(ctx, nil, ingest.DecodeFields(req.LocationID, req.Temperature))

	resp := &api.SubmitResponse{
		Success: ack.Success,
		Reason:  string(ack.Reason),
	}
	if ack.Measurement != nil {
		m := toAPIMeasurement(*ack.Measurement)
		resp.Measurement = &m
	}

	done("ok")
	return resp, nil
}

// Snapshot returns the registry and the recent measurements.
func (s *TemperatureService) Snapshot(ctx context.Context, _ *emptypb.Empty) (*api.SnapshotResponse, error) {
	done := s.track("Snapshot")

	snap, err := s.ingest.Snapshot(ctx)
	if err != nil {
		s.logger.Error("failed to build snapshot", "error", err)
		done("error")
		return nil, status.Error(codes.Internal, "failed to load measurements")
	}

	resp := &api.SnapshotResponse{
		Locations:    make([]api.Location, len(snap.Locations)),
		Measurements: make([]api.Measurement, len(snap.Measurements)),
	}
	for i, loc := range snap.Locations {
		resp.Locations[i] = api.Location{
			ID:             loc.ID,
			Name:           loc.Name,
			Slug:           loc.Slug,
			Coordinates:    loc.Coordinates,
			RenderHint:     loc.RenderHint,
			UTCOffsetHours: loc.UTCOffsetHours,
		}
	}
	for i, m := range snap.Measurements {
		resp.Measurements[i] = toAPIMeasurement(m)
	}

	done("ok")
	return resp, nil
}

// Watch streams every accepted measurement until the client leaves or the
// service stops. A stream that cannot keep up is dropped by the hub and ends
// with ResourceExhausted.
func (s *TemperatureService) Watch(_ *emptypb.Empty, stream api.WatchServer) error {
	w := &watcher{
		id:      fmt.Sprintf("grpc-%d", s.watchers.Add(1)),
		updates: make(chan store.Measurement, watchBuffer),
		done:    make(chan struct{}),
	}

	if s.metrics != nil {
		s.metrics.GRPCStreamsActive.Inc()
		defer s.metrics.GRPCStreamsActive.Dec()
	}

	s.ingest.OnConnect(w)
	defer s.ingest.OnDisconnect(w)

	s.logger.Info("watch stream opened", "session", w.id)
	defer s.logger.Info("watch stream closed", "session", w.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.stop:
			return status.Error(codes.Unavailable, "server is shutting down")

		case <-w.done:
			return status.Error(codes.ResourceExhausted, "watch stream fell behind")

		case m := <-w.updates:
			out := toAPIMeasurement(m)
			if err := stream.Send(&out); err != nil {
				return err
			}
		}
	}
}

// track starts the duration timer for method and returns a func recording
// its outcome.
func (s *TemperatureService) track(method string) func(outcome string) {
	if s.metrics == nil {
		return func(string) {}
	}

	timer := prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(method))
	return func(outcome string) {
		timer.ObserveDuration()
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	}
}

func toAPIMeasurement(m store.Measurement) api.Measurement {
	return api.Measurement{
		ID:          m.ID,
		LocationID:  m.LocationID,
		Temperature: m.Temperature,
		Timestamp:   m.Timestamp,
	}
}

// watcher is a Watch stream registered with the hub.
type watcher struct {
	updates chan store.Measurement
	done    chan struct{}
	id      string
	once    sync.Once
}

func (w *watcher) ID() string { return w.id }

func (w *watcher) Deliver(m store.Measurement) bool {
	select {
	case <-w.done:
		return false
	default:
	}

	select {
	case w.updates <- m:
		return true
	default:
		return false
	}
}

func (w *watcher) Close() {
	w.once.Do(func() { close(w.done) })
}

var (
	_ api.TemperatureServiceServer = (*TemperatureService)(nil)
	_ ingest.Conn                  = (*watcher)(nil)
)
