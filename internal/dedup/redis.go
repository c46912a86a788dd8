package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares the dedup gate between processes with SET NX PX.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("dedup: redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("dedup: ttl must be > 0")
	}
	if prefix == "" {
		prefix = "webhook:sent:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) Mark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("dedup: empty key")
	}
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Unix(), s.ttl).Result()
}
