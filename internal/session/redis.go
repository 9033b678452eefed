package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// RedisStore keeps sessions in Redis so every gateway instance sees the
// same set of live sessions and a logout on one node is honoured by all.
// Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session: record %s already expired", rec.ID)
	}
	if err := s.rdb.Set(ctx, keyPrefix+rec.ID, rec.UserID, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, id string) (*Record, error) {
	key := keyPrefix + id

	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session: redis lookup: %w", err)
	}

	userID, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}

	rec := &Record{ID: id, UserID: userID}
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		rec.ExpiresAt = s.now().Add(ttl)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
