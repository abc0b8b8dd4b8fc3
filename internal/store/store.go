package store

import (
	"context"
	"time"
)

// RoomState is the persisted record for one room: at most one row per room key,
// overwritten wholesale on every save. BinaryState holds the most recently
// received CRDT update blob, TextContent the latest plain-text snapshot.
type RoomState struct {
	ID          uint   `gorm:"primarykey" json:"-"`
	RoomKey     string `gorm:"uniqueIndex;size:100;not null" json:"room_key"`
	BinaryState []byte `json:"-"`
	TextContent string `json:"text_content"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists last-known room state with last-writer-wins semantics.
// Concurrent saves to the same room race at the backend; whichever commit
// lands last wins. That weak model is deliberate: live peers hold the
// authoritative state, the store only seeds late joiners.
type Store interface {
	// Load returns the persisted record, or an empty default when the room
	// has never been saved. It errors only on genuine backend failure.
	Load(ctx context.Context, roomKey string) (RoomState, error)

	// SaveBinary upserts, replacing any prior blob wholesale (never merged).
	SaveBinary(ctx context.Context, roomKey string, blob []byte) error

	// SaveText upserts, replacing the plain-text content.
	SaveText(ctx context.Context, roomKey string, text string) error
}

func emptyState(roomKey string) RoomState {
	return RoomState{RoomKey: roomKey}
}
