package frontend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/metrics"
)

// Message types on the websocket.
const (
	TypeAdd    = "add"
	TypeAck    = "ack"
	TypeUpdate = "update"
	TypeHello  = "hello"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Envelope is the frame format in both directions. Ref is echoed from a
// client request to its ack.
type Envelope struct {
	Type string          `json:"type"`
	Ref  json.RawMessage `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Data any             `json:"data,omitempty"`
	Type string          `json:"type"`
	Ref  json.RawMessage `json:"ref,omitempty"`
}

type hello struct {
	Session string `json:"session"`
}

// session is one websocket client. It implements ingest.Conn.
type session struct {
	ws      *websocket.Conn
	ingest  Ingestor
	logger  *slog.Logger
	metrics *metrics.HTTPMetrics
	send    chan outbound
	done    chan struct{}
	id      string
	once    sync.Once
}

func newSession(ws *websocket.Conn, svc Ingestor, logger *slog.Logger, m *metrics.HTTPMetrics) *session {
	id := newSessionID()
	return &session{
		id:      id,
		ws:      ws,
		ingest:  svc,
		logger:  logger.With(slog.String("session", id)),
		metrics: m,
		send:    make(chan outbound, sendBuffer),
		done:    make(chan struct{}),
	}
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ID implements ingest.Conn.
func (s *session) ID() string { return s.id }

// Deliver implements ingest.Conn.
func (s *session) Deliver(m store.Measurement) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- outbound{Type: TypeUpdate, Data: m}:
		return true
	default:
		return false
	}
}

// Close implements ingest.Conn.
func (s *session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}

// reply queues a message for this client only, waiting for outbox space.
func (s *session) reply(msg outbound) {
	select {
	case s.send <- msg:
	case <-s.done:
	}
}

// handleWebsocket upgrades the request and runs the session until the client leaves.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(ws, s.ingest, s.logger, s.metrics)
	ctx := r.Context()

	go sess.writePump(ctx)

	sess.reply(outbound{Type: TypeHello, Data: hello{Session: sess.id}})
	s.ingest.OnConnect(sess)

	sess.readPump(ctx)

	s.ingest.OnDisconnect(sess)
	sess.Close()
}

// readPump handles client frames one at a time, so a client's acks follow
// the order of its submissions.
func (s *session) readPump(ctx context.Context) {
	s.ws.SetReadLimit(maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Info("websocket transport error", "error", err)
			}
			return
		}

		s.handleFrame(ctx, data)
	}
}

func (s *session) handleFrame(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("corrupted input", "error", err, "bytes", len(data))
		s.count("in", "corrupt")
		s.reply(outbound{Type: TypeAck, Data: ingest.Ack{Reason: ingest.ReasonUnsupportedMessage}})
		return
	}

	switch env.Type {
	case TypeAdd:
		s.count("in", TypeAdd)
		ack := s.ingest.Submit(ctx, s, ingest.DecodeCandidate(env.Data))
		s.reply(outbound{Type: TypeAck, Ref: env.Ref, Data: ack})
	default:
		s.count("in", "unsupported")
		s.logger.Debug("unsupported message type", "type", env.Type)
		s.reply(outbound{Type: TypeAck, Ref: env.Ref, Data: ingest.Ack{Reason: ingest.ReasonUnsupportedMessage}})
	}
}

// writePump is the only writer of data frames on the connection.
func (s *session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
			s.count("out", msg.Type)

		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			_ = s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return

		case <-s.done:
			return
		}
	}
}

func (s *session) count(direction, msgType string) {
	if s.metrics != nil {
		s.metrics.WebsocketMessages.WithLabelValues(direction, msgType).Inc()
	}
}
