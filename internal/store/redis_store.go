package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomKeyPrefix = "collab:room:"

// RedisStore keeps room state in one hash per room. Field writes are atomic,
// so concurrent saves interleave per field with the last commit winning.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Load(ctx context.Context, roomKey string) (RoomState, error) {
	fields, err := s.rdb.HGetAll(ctx, roomKeyPrefix+roomKey).Result()
	if err != nil {
		return emptyState(roomKey), err
	}
	if len(fields) == 0 {
		return emptyState(roomKey), nil
	}

	state := emptyState(roomKey)
	if bin, ok := fields["binary_state"]; ok && bin != "" {
		state.BinaryState = []byte(bin)
	}
	state.TextContent = fields["text_content"]
	if ts, ok := fields["updated_at"]; ok {
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			state.UpdatedAt = parsed
		}
	}
	return state, nil
}

func (s *RedisStore) SaveBinary(ctx context.Context, roomKey string, blob []byte) error {
	return s.rdb.HSet(ctx, roomKeyPrefix+roomKey,
		"binary_state", blob,
		"updated_at", time.Now().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisStore) SaveText(ctx context.Context, roomKey string, text string) error {
	return s.rdb.HSet(ctx, roomKeyPrefix+roomKey,
		"text_content", text,
		"updated_at", time.Now().Format(time.RFC3339Nano),
	).Err()
}
