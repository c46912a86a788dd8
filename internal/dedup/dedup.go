// Package dedup guards webhook delivery so each call id is delivered at most
// once within a TTL.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store atomically checks and marks a key. Mark returns true only for the
// first caller within the TTL.
type Store interface {
	Mark(ctx context.Context, key string) (bool, error)
}

// Cache is an in-process Store. Entries older than TTL are swept lazily on
// access; MaxEntries caps memory by evicting the oldest entry.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu        sync.Mutex
	marked    map[string]time.Time
	lastSweep time.Time
}

type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		marked:     make(map[string]time.Time),
	}
	for _, o := range opts {
		o(c)
	}
	c.lastSweep = c.now()
	return c
}

func (c *Cache) Mark(_ context.Context, key string) (bool, error) {
	return c.TryMark(key), nil
}

// TryMark is Mark without the context or error.
func (c *Cache) TryMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= c.ttl/4 {
		c.sweepLocked(now)
	}

	if at, ok := c.marked[key]; ok && now.Sub(at) < c.ttl {
		return false
	}
	if c.maxEntries > 0 && len(c.marked) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.marked[key] = now
	return true
}

// Sweep drops entries older than the TTL and returns how many were removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.marked)
}

func (c *Cache) sweepLocked(now time.Time) int {
	c.lastSweep = now
	n := 0
	for k, at := range c.marked {
		if now.Sub(at) >= c.ttl {
			delete(c.marked, k)
			n++
		}
	}
	return n
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, at := range c.marked {
		if !found || at.Before(oldestAt) {
			oldestKey, oldestAt, found = k, at, true
		}
	}
	if found {
		delete(c.marked, oldestKey)
	}
}
