package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chamada/pkg/utils"
)

// RedisSlidingWindow shares the window between API replicas.
type RedisSlidingWindow struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisSlidingWindow(client *redis.Client, prefix string, limit int, window time.Duration) (*RedisSlidingWindow, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be > 0")
	}
	if prefix == "" {
		prefix = "ratelimit:start_call:"
	}
	return &RedisSlidingWindow{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}, nil
}

func (r *RedisSlidingWindow) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := utils.AllowSlidingWindow(ctx, r.client, r.prefix+key, uuid.NewString(), r.limit, r.window, r.now())
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: res.Allowed, RetryAfter: res.RetryAfter}
	if res.Allowed {
		d.Remaining = r.limit - res.Count
	}
	return d, nil
}
