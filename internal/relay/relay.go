package relay

import (
	"context"

	"go.uber.org/zap"

	"collabrelay/internal/metrics"
	"collabrelay/internal/models"
	"collabrelay/internal/session"
	"collabrelay/internal/store"
)

// Relay is the control/data plane of the collaboration service: it registers
// sessions, seeds joiners with persisted state, classifies inbound frames and
// fans them out to room peers. Durability is best-effort, liveness is not:
// a failed save is logged and the broadcast proceeds anyway.
type Relay struct {
	registry *session.Registry
	store    store.Store
	log      *zap.Logger
}

func New(registry *session.Registry, st store.Store, log *zap.Logger) *Relay {
	return &Relay{registry: registry, store: st, log: log}
}

// OnJoin registers s in its room, delivers the persisted room state (binary
// blob if present, else non-empty text wrapped as {"text": ...}, never both),
// and announces the arrival to every other session in the room. The joiner
// never sees its own join notice.
func (r *Relay) OnJoin(ctx context.Context, s *session.Session) {
	r.registry.Join(s.RoomKey, s)
	metrics.ActiveSessions.Inc()

	state, err := r.store.Load(ctx, s.RoomKey)
	if err != nil {
		metrics.PersistenceFailures.Inc()
		r.log.Error("load room state",
			zap.String("room", s.RoomKey), zap.String("session", s.ID), zap.Error(err))
	} else if len(state.BinaryState) > 0 {
		s.DeliverBinary(state.BinaryState)
	} else if state.TextContent != "" {
		s.DeliverJSON(models.TextSnapshot{Text: state.TextContent})
	}

	r.registry.BroadcastJSON(s.RoomKey, models.UserJoined{
		Type:     models.EventUserJoined,
		UserID:   s.Identity.UserID,
		Username: s.Identity.Username,
		Avatar:   s.Identity.Avatar,
	}, s)

	r.log.Info("session joined",
		zap.String("room", s.RoomKey),
		zap.String("session", s.ID),
		zap.String("username", s.Identity.Username),
		zap.Int("room_size", r.registry.RoomSize(s.RoomKey)))
}

// Dispatch handles one inbound frame from s. Classification happens once up
// front; the switch below is exhaustive over the closed kind set. The sender
// is excluded from every resulting broadcast: its local runtime has already
// applied its own change, so an echo would be a duplicate apply.
func (r *Relay) Dispatch(ctx context.Context, s *session.Session, payload []byte, binary bool) {
	msg := models.Classify(payload, binary)
	metrics.MessagesTotal.WithLabelValues(msg.Kind.String()).Inc()

	switch msg.Kind {
	case models.KindBinaryUpdate:
		r.persistBinary(ctx, s, msg.Raw)
		r.registry.BroadcastBinary(s.RoomKey, msg.Raw, s)

	case models.KindAwareness:
		// Ephemeral cursor/selection state: relayed, never persisted.
		r.registry.BroadcastJSON(s.RoomKey, models.AwarenessUpdate{
			Type:     models.EventAwarenessUpdate,
			UserID:   s.Identity.UserID,
			Username: s.Identity.Username,
			Avatar:   s.Identity.Avatar,
			Data:     msg.AwarenessData,
		}, s)

	case models.KindRequestState:
		r.registry.BroadcastJSON(s.RoomKey, models.StateRequest{
			Type:             models.EventStateRequest,
			RequesterChannel: s.ID,
		}, s)

	case models.KindFullState:
		if msg.Target == "" {
			// No error-response channel exists; misuse is dropped, not answered.
			r.log.Warn("full_state without target dropped",
				zap.String("room", s.RoomKey), zap.String("session", s.ID))
			return
		}
		if !r.registry.UnicastJSON(s.RoomKey, msg.Target, models.StateSync{
			Type:        models.EventStateSync,
			StateVector: msg.StateVector,
		}) {
			r.log.Debug("full_state target gone",
				zap.String("room", s.RoomKey), zap.String("target", msg.Target))
		}

	case models.KindSnapshot:
		if msg.Snapshot == nil {
			r.log.Warn("snapshot with empty or undecodable state dropped",
				zap.String("room", s.RoomKey), zap.String("session", s.ID))
			return
		}
		// Background checkpoint: persisted only, never relayed.
		r.persistBinary(ctx, s, msg.Snapshot)

	case models.KindTextUpdate:
		if err := r.store.SaveText(ctx, s.RoomKey, msg.Text); err != nil {
			metrics.PersistenceFailures.Inc()
			r.log.Error("save text content",
				zap.String("room", s.RoomKey), zap.Error(err))
		}
		r.registry.BroadcastText(s.RoomKey, msg.Raw, s)

	case models.KindOpaqueText:
		r.registry.BroadcastText(s.RoomKey, msg.Raw, s)
	}
}

// OnLeave announces the departure to the remaining sessions and deregisters s.
// Safe to call more than once for the same session; only the first call has
// any effect.
func (r *Relay) OnLeave(s *session.Session) {
	if !r.registry.Leave(s.RoomKey, s) {
		return
	}
	metrics.ActiveSessions.Dec()

	r.registry.BroadcastJSON(s.RoomKey, models.UserLeft{
		Type:     models.EventUserLeft,
		UserID:   s.Identity.UserID,
		Username: s.Identity.Username,
	}, s)

	r.log.Info("session left",
		zap.String("room", s.RoomKey),
		zap.String("session", s.ID),
		zap.String("username", s.Identity.Username))
}

// The store keeps only the latest update blob, not a merged document: live
// peers hold the authoritative state. A room rejoined with zero live peers
// may therefore restore an incomplete document. Known limitation, inherited
// from the protocol; the server never interprets or merges blobs.
func (r *Relay) persistBinary(ctx context.Context, s *session.Session, blob []byte) {
	if err := r.store.SaveBinary(ctx, s.RoomKey, blob); err != nil {
		metrics.PersistenceFailures.Inc()
		r.log.Error("save binary state",
			zap.String("room", s.RoomKey), zap.Error(err))
	}
}
