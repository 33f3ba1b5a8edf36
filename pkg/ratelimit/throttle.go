package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttle is a general per-source-address API backpressure gate, distinct
// from the login lockout above: it bounds request volume regardless of
// outcome, rather than counting failures (spec.md §4.6 expansion).
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewThrottle creates a throttle allowing ratePerSecond sustained requests
// per source address, with burst capacity burst.
func NewThrottle(ratePerSecond float64, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

// Allow reports whether a request from sourceAddr may proceed now.
func (t *Throttle) Allow(sourceAddr string) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[sourceAddr]
	if !ok {
		limiter = rate.NewLimiter(t.r, t.burst)
		t.limiters[sourceAddr] = limiter
	}
	t.mu.Unlock()
	return limiter.Allow()
}
