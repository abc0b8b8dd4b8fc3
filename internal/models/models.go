package models

import (
	"encoding/base64"
	"encoding/json"
)

// Identity is the user behind a connection, distinct from the connection itself.
// Anonymous users get a generated username and empty UserID.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Server-emitted event types.
const (
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventAwarenessUpdate = "awareness_update"
	EventStateRequest    = "state_request"
	EventStateSync       = "state_sync"
)

// Client-sent control message types.
const (
	TypeAwareness    = "awareness"
	TypeRequestState = "request_state"
	TypeFullState    = "full_state"
	TypeSnapshot     = "snapshot"
)

type UserJoined struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type UserLeft struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type AwarenessUpdate struct {
	Type     string          `json:"type"`
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Avatar   string          `json:"avatar,omitempty"`
	Data     json.RawMessage `json:"data"`
}

type StateRequest struct {
	Type             string `json:"type"`
	RequesterChannel string `json:"requester_channel"`
}

type StateSync struct {
	Type        string `json:"type"`
	StateVector string `json:"state_vector"`
}

// TextSnapshot wraps persisted plain-text content delivered to a joining session.
type TextSnapshot struct {
	Text string `json:"text"`
}

// MessageKind classifies one inbound frame. The relay switches exhaustively
// over this closed set; classification happens once, up front, in Classify.
type MessageKind int

const (
	// KindBinaryUpdate is an opaque CRDT update blob: persisted and relayed verbatim.
	KindBinaryUpdate MessageKind = iota
	// KindAwareness is ephemeral cursor/selection state: relayed, never persisted.
	KindAwareness
	// KindRequestState asks already-synced peers for a full-state snapshot.
	KindRequestState
	// KindFullState is a peer's answer to a state request, routed to one target.
	KindFullState
	// KindSnapshot is a background checkpoint: persisted, never relayed.
	KindSnapshot
	// KindTextUpdate carries a plain-text snapshot: persisted and relayed verbatim.
	KindTextUpdate
	// KindOpaqueText is anything else on the text channel: relayed verbatim.
	KindOpaqueText
)

func (k MessageKind) String() string {
	switch k {
	case KindBinaryUpdate:
		return "binary_update"
	case KindAwareness:
		return "awareness"
	case KindRequestState:
		return "request_state"
	case KindFullState:
		return "full_state"
	case KindSnapshot:
		return "snapshot"
	case KindTextUpdate:
		return "text_update"
	default:
		return "opaque_text"
	}
}

// Message is the classified form of one inbound frame. Raw always holds the
// original payload so verbatim relay never re-encodes what the client sent.
type Message struct {
	Kind MessageKind
	Raw  []byte

	// KindAwareness
	AwarenessData json.RawMessage

	// KindFullState
	StateVector string
	Target      string

	// KindSnapshot; nil when the base64 payload was empty or did not decode
	Snapshot []byte

	// KindTextUpdate
	Text string
}

type envelope struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	StateVector string          `json:"state_vector"`
	Target      string          `json:"target"`
	State       string          `json:"state"`
	Text        *string         `json:"text"`
}

// Classify turns one inbound frame into a tagged Message. First matching rule
// wins: binary, then the recognized JSON control types, then a bare text field,
// then verbatim passthrough. Malformed JSON is not an error; it classifies as
// opaque text so the relay broadcasts it unchanged.
func Classify(payload []byte, binary bool) Message {
	if binary {
		return Message{Kind: KindBinaryUpdate, Raw: payload}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Message{Kind: KindOpaqueText, Raw: payload}
	}

	switch env.Type {
	case TypeAwareness:
		return Message{Kind: KindAwareness, Raw: payload, AwarenessData: env.Data}
	case TypeRequestState:
		return Message{Kind: KindRequestState, Raw: payload}
	case TypeFullState:
		return Message{Kind: KindFullState, Raw: payload, StateVector: env.StateVector, Target: env.Target}
	case TypeSnapshot:
		// A missing or empty state field decodes to zero bytes; persisting
		// that would wipe the room's late-joiner seed. Classify it like
		// undecodable base64 so the relay drops it.
		blob, err := base64.StdEncoding.DecodeString(env.State)
		if err != nil || len(blob) == 0 {
			blob = nil
		}
		return Message{Kind: KindSnapshot, Raw: payload, Snapshot: blob}
	}

	if env.Text != nil {
		return Message{Kind: KindTextUpdate, Raw: payload, Text: *env.Text}
	}
	return Message{Kind: KindOpaqueText, Raw: payload}
}
