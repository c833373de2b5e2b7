// Package ratelimit throttles the endpoints that put work on the sync
// slot. One token bucket per calling client keeps a misbehaving
// dashboard from starving everyone else's syncs.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per client.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewLimiter allows requestsPerMinute sustained requests per client,
// with bursts up to burst.
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (l *Limiter) limiter(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[clientID] = limiter
	}
	return limiter
}

// Allow reports whether the client may make another request now.
func (l *Limiter) Allow(clientID string) bool {
	return l.limiter(clientID).Allow()
}

// Tokens returns the client's remaining burst allowance.
func (l *Limiter) Tokens(clientID string) float64 {
	return l.limiter(clientID).Tokens()
}
