package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the client shared by the dedup store and the rate
// limiter. Zero values fall back to conservative defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	return c
}

// OpenRedis builds a client and checks it with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	if err := PingRedis(ctx, rdb, cfg.PingTimeout); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// PingRedis checks the client within timeout.
func PingRedis(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// slidingWindowScript records one hit in a ZSET window and reports whether
// the key is still within limit.
var slidingWindowScript = redis.NewScript(`
-- KEYS[1] = window key
-- ARGV[1] = now (ms)
-- ARGV[2] = window (ms)
-- ARGV[3] = limit (int)
-- ARGV[4] = member (unique per hit)
--
-- Returns {allowed, count, oldest_ms}
--  allowed is 1 if the hit was recorded, 0 if rejected (limit reached)
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)

local count = redis.call('ZCARD', KEYS[1])
local oldest = now
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end

if count >= tonumber(ARGV[3]) then
  return {0, count, oldest}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1, oldest}
`)

// WindowResult is the outcome of one sliding-window check.
type WindowResult struct {
	Allowed bool
	Count   int
	// RetryAfter is how long until the oldest hit leaves the window. Zero when allowed.
	RetryAfter time.Duration
}

// AllowSlidingWindow atomically checks and records a hit for key.
//
// Safety properties:
// - Check and record happen in one Lua call, so concurrent callers cannot both
//   observe a stale under-limit count.
// - The key expires after one idle window.
func AllowSlidingWindow(ctx context.Context, rdb *redis.Client, key, member string, limit int, window time.Duration, now time.Time) (WindowResult, error) {
	if rdb == nil {
		return WindowResult{}, fmt.Errorf("redis client is nil")
	}
	if key == "" || member == "" {
		return WindowResult{}, fmt.Errorf("key and member are required")
	}
	if limit <= 0 {
		return WindowResult{}, fmt.Errorf("limit must be > 0")
	}
	if window <= 0 {
		return WindowResult{}, fmt.Errorf("window must be > 0")
	}

	nowMS := now.UnixMilli()
	vals, err := slidingWindowScript.Run(ctx, rdb, []string{key}, nowMS, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return WindowResult{}, err
	}
	if len(vals) != 3 {
		return WindowResult{}, fmt.Errorf("unexpected script reply of %d values", len(vals))
	}
	res := WindowResult{Allowed: vals[0] == 1, Count: int(vals[1])}
	if !res.Allowed {
		res.RetryAfter = time.Duration(vals[2]+window.Milliseconds()-nowMS) * time.Millisecond
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res, nil
}
