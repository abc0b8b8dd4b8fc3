package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/internal/metrics"
	"collabrelay/internal/models"
)

const (
	writeWait     = 5 * time.Second
	outboundDepth = 64
)

type outbound struct {
	messageType int
	payload     []byte
}

// Session is one client's live connection: the transport handle, the user
// behind it, and the room it is bound to for its whole lifetime. Outbound
// frames go through a buffered queue drained by a single writer goroutine,
// so a slow or dead peer never blocks whoever is broadcasting to it.
type Session struct {
	ID       string
	Identity models.Identity
	RoomKey  string

	conn *websocket.Conn
	log  *zap.Logger

	mu   sync.Mutex
	hook func(messageType int, payload []byte)

	out       chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func New(conn *websocket.Conn, identity models.Identity, roomKey string, log *zap.Logger) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		RoomKey:  roomKey,
		conn:     conn,
		log:      log,
		out:      make(chan outbound, outboundDepth),
		done:     make(chan struct{}),
	}
	if conn != nil {
		go s.writePump()
	}
	return s
}

// SetDeliverHook replaces the WebSocket writer (used in tests). Hook delivery
// is synchronous and bypasses the outbound queue.
func (s *Session) SetDeliverHook(fn func(messageType int, payload []byte)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// DeliverText pushes a text frame to the client. Safe to call after the
// transport is closing: the frame is dropped, never an error to the caller.
func (s *Session) DeliverText(payload []byte) {
	s.deliver(websocket.TextMessage, payload)
}

// DeliverBinary pushes a binary frame to the client.
func (s *Session) DeliverBinary(payload []byte) {
	s.deliver(websocket.BinaryMessage, payload)
}

// DeliverJSON marshals v and pushes it as a text frame.
func (s *Session) DeliverJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal outbound frame", zap.String("session", s.ID), zap.Error(err))
		return
	}
	s.DeliverText(payload)
}

func (s *Session) deliver(messageType int, payload []byte) {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(messageType, payload)
		return
	}
	if s.conn == nil {
		return
	}

	select {
	case s.out <- outbound{messageType: messageType, payload: payload}:
	case <-s.done:
	default:
		// Queue full: the peer is too slow to keep up. Drop rather than stall.
		metrics.DeliveriesDropped.Inc()
		s.log.Warn("outbound queue full, dropping frame",
			zap.String("session", s.ID), zap.String("room", s.RoomKey))
	}
}

// Close stops the writer goroutine. Idempotent; delivery attempts after Close
// are silently dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) writePump() {
	for {
		select {
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(msg.messageType, msg.payload); err != nil {
				metrics.DeliveriesDropped.Inc()
				s.log.Debug("write to peer failed",
					zap.String("session", s.ID), zap.Error(err))
				return
			}
		case <-s.done:
			return
		}
	}
}
