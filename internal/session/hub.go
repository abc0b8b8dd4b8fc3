package session

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/internal/metrics"
)

// Registry maps room keys to live rooms. It is constructor-injected into
// whatever serves connections rather than living as a package global, so
// every test can run against a fresh instance.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	log   *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{rooms: make(map[string]*Room), log: log}
}

// Join adds s to roomKey's member set, creating the room on first join.
// The membership insert happens under the registry lock: a concurrent Leave
// by the last member discards the room entry, and joining a room after it
// was discarded would strand the session in an unreachable member set.
func (reg *Registry) Join(roomKey string, s *Session) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[roomKey]
	if !ok {
		room = NewRoom(roomKey)
		reg.rooms[roomKey] = room
	}
	room.Join(s)
}

// Leave removes s from roomKey; the room entry is discarded once empty.
// Leaving a room the session is not in (or leaving twice) is a no-op, and
// the return value reports whether this call actually removed the session.
func (reg *Registry) Leave(roomKey string, s *Session) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[roomKey]
	if !ok {
		return false
	}
	removed, remaining := room.Leave(s)
	if remaining == 0 {
		delete(reg.rooms, roomKey)
	}
	return removed
}

// BroadcastText delivers a text frame to every session in roomKey except
// exclude. Delivery is fire-and-forget per recipient: each peer's outbound
// queue isolates it, so one dead transport never affects the others.
func (reg *Registry) BroadcastText(roomKey string, payload []byte, exclude *Session) {
	reg.broadcast(roomKey, websocket.TextMessage, payload, exclude)
}

// BroadcastBinary delivers a binary frame to every session except exclude.
func (reg *Registry) BroadcastBinary(roomKey string, payload []byte, exclude *Session) {
	reg.broadcast(roomKey, websocket.BinaryMessage, payload, exclude)
}

// BroadcastJSON marshals v once and delivers it to every session except exclude.
func (reg *Registry) BroadcastJSON(roomKey string, v any, exclude *Session) {
	payload, err := json.Marshal(v)
	if err != nil {
		reg.log.Error("marshal broadcast frame", zap.String("room", roomKey), zap.Error(err))
		return
	}
	reg.BroadcastText(roomKey, payload, exclude)
}

func (reg *Registry) broadcast(roomKey string, messageType int, payload []byte, exclude *Session) {
	room, ok := reg.get(roomKey)
	if !ok {
		return
	}
	peers := room.Peers(exclude)
	for _, peer := range peers {
		switch messageType {
		case websocket.BinaryMessage:
			peer.DeliverBinary(payload)
		default:
			peer.DeliverText(payload)
		}
	}
	metrics.BroadcastsTotal.Add(float64(len(peers)))
}

// UnicastJSON routes v to the one session in roomKey identified by targetID.
// It reports whether the target was found; an unknown target is the caller's
// cue to drop the message.
func (reg *Registry) UnicastJSON(roomKey, targetID string, v any) bool {
	room, ok := reg.get(roomKey)
	if !ok {
		return false
	}
	target, ok := room.Get(targetID)
	if !ok {
		return false
	}
	target.DeliverJSON(v)
	return true
}

// RoomSize reports the current member count of roomKey (0 when absent).
func (reg *Registry) RoomSize(roomKey string) int {
	room, ok := reg.get(roomKey)
	if !ok {
		return 0
	}
	return room.Size()
}

func (reg *Registry) get(roomKey string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[roomKey]
	return room, ok
}
