package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps room state in a relational table (Postgres in production,
// SQLite for development and tests).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&RoomState{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context, roomKey string) (RoomState, error) {
	var state RoomState
	err := s.db.WithContext(ctx).First(&state, "room_key = ?", roomKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyState(roomKey), nil
	}
	if err != nil {
		return emptyState(roomKey), err
	}
	return state, nil
}

func (s *GormStore) SaveBinary(ctx context.Context, roomKey string, blob []byte) error {
	return s.upsert(ctx, &RoomState{
		RoomKey:     roomKey,
		BinaryState: blob,
		UpdatedAt:   time.Now(),
	}, "binary_state")
}

func (s *GormStore) SaveText(ctx context.Context, roomKey string, text string) error {
	return s.upsert(ctx, &RoomState{
		RoomKey:     roomKey,
		TextContent: text,
		UpdatedAt:   time.Now(),
	}, "text_content")
}

func (s *GormStore) upsert(ctx context.Context, state *RoomState, column string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_key"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(state).Error
}
