// Package backoff computes exponential retry delays and runs retry loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff: Base * Factor^(attempt-1),
// plus up to Jitter*delay of random spread, clamped to Max.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// WebhookPolicy is 1s, 2s, 4s, 8s, 8s... with no jitter.
func WebhookPolicy() Policy {
	return Policy{Base: time.Second, Max: 8 * time.Second, Factor: 2}
}

// Delay returns the wait after the given attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func (p Policy) delay(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Base) * math.Pow(factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// Total is the longest Retry can sleep across attempts tries, taking the
// full jitter on every wait.
func (p Policy) Total(attempts int) time.Duration {
	var sum time.Duration
	for i := 1; i < attempts; i++ {
		sum += p.delay(i, 1)
	}
	return sum
}
