// Package ratelimit caps how many calls one origin may start per window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the result of one Allow.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is set when the request was rejected.
	RetryAfter time.Duration
}

// Limiter checks and records a hit for key in one atomic step.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

const DefaultMaxKeys = 10000

// SlidingWindow is an in-process Limiter. Hits older than the window are
// dropped on access; idle keys are swept lazily once per window.
type SlidingWindow struct {
	limit   int
	window  time.Duration
	maxKeys int
	now     func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

type Option func(*SlidingWindow)

func WithClock(now func() time.Time) Option { return func(s *SlidingWindow) { s.now = now } }
func WithMaxKeys(n int) Option              { return func(s *SlidingWindow) { s.maxKeys = n } }

func NewSlidingWindow(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	s := &SlidingWindow{
		limit:   limit,
		window:  window,
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
		hits:    make(map[string][]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	s.lastSweep = s.now()
	return s
}

func (s *SlidingWindow) Allow(_ context.Context, key string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.window {
		s.sweepLocked(now)
	}

	hits := prune(s.hits[key], now.Add(-s.window))
	if len(hits) >= s.limit {
		s.hits[key] = hits
		return Decision{RetryAfter: hits[0].Add(s.window).Sub(now)}, nil
	}

	if _, tracked := s.hits[key]; !tracked && s.maxKeys > 0 && len(s.hits) >= s.maxKeys {
		s.evictOldestLocked()
	}
	hits = append(hits, now)
	s.hits[key] = hits
	return Decision{Allowed: true, Remaining: s.limit - len(hits)}, nil
}

// Sweep drops keys with no hit inside the window and returns how many were
// removed.
func (s *SlidingWindow) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

func (s *SlidingWindow) sweepLocked(now time.Time) int {
	s.lastSweep = now
	cutoff := now.Add(-s.window)
	n := 0
	for k, hits := range s.hits {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(s.hits, k)
			n++
			continue
		}
		s.hits[k] = hits
	}
	return n
}

// evictOldestLocked drops the key whose latest hit is oldest.
func (s *SlidingWindow) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, hits := range s.hits {
		last := time.Time{}
		if len(hits) > 0 {
			last = hits[len(hits)-1]
		}
		if !found || last.Before(oldestAt) {
			oldestKey, oldestAt, found = k, last, true
		}
	}
	if found {
		delete(s.hits, oldestKey)
	}
}

// prune drops hits at or before cutoff. hits is sorted ascending.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
