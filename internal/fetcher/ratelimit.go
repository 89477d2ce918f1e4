package fetcher

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-domain rate limits so one slow host cannot be hammered
// just because the pool scaled up.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewLimiter builds a Limiter that allows rps requests per second per domain
// with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until the domain's limiter admits one request or ctx is done.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	domain = strings.ToLower(domain)
	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}
