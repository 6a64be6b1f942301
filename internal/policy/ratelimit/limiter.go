// Package ratelimit implements a token bucket limiter keyed by API client.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained per-client request rate. Zero or negative
	// means unlimited.
	RPS float64
	// Burst is the per-client burst allowance (minimum 1).
	Burst int
}

// Limiter manages per-client token buckets. Clients are identified by the
// caller, typically by API key or remote address. Buckets are created
// lazily and kept for the life of the process.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// Allow reports whether the client may proceed, consuming a token when it
// may. Never blocks.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Size returns the number of tracked clients.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
