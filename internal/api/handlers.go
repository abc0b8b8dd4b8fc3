package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/internal/identity"
	"collabrelay/internal/relay"
	"collabrelay/internal/session"
	"collabrelay/internal/store"
)

type Handlers struct {
	log   *zap.Logger
	relay *relay.Relay
	store store.Store
	idp   identity.Provider
}

func NewHandlers(log *zap.Logger, rl *relay.Relay, st store.Store, idp identity.Provider) *Handlers {
	return &Handlers{log: log, relay: rl, store: st, idp: idp}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

type roomStateResponse struct {
	RoomKey        string    `json:"room_key"`
	TextContent    string    `json:"text_content"`
	HasBinaryState bool      `json:"has_binary_state"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RoomState returns the persisted record for a room. A room that has never
// been saved reads as an empty default, not an error.
func (h *Handlers) RoomState(w http.ResponseWriter, r *http.Request) {
	roomKey := chi.URLParam(r, "roomKey")
	state, err := h.store.Load(r.Context(), roomKey)
	if err != nil {
		h.log.Error("load room state", zap.String("room", roomKey), zap.Error(err))
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, roomStateResponse{
		RoomKey:        state.RoomKey,
		TextContent:    state.TextContent,
		HasBinaryState: len(state.BinaryState) > 0,
		UpdatedAt:      state.UpdatedAt,
	})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// CollabWS is the WebSocket endpoint: one connection, one session, bound to
// the room in the URL for its whole lifetime. The read loop runs here, so a
// session's own messages are dispatched strictly in arrival order.
func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	roomKey := chi.URLParam(r, "roomKey")
	ident := h.idp.Identify(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The request context dies with the handler; relay work (persistence,
	// fan-out) must outlive individual reads, so it runs on its own context.
	ctx := context.Background()

	s := session.New(conn, ident, roomKey, h.log)
	h.relay.OnJoin(ctx, s)
	defer func() {
		h.relay.OnLeave(s)
		s.Close()
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			h.relay.Dispatch(ctx, s, payload, false)
		case websocket.BinaryMessage:
			h.relay.Dispatch(ctx, s, payload, true)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
