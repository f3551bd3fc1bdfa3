package local

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// RateLimiter keeps one token bucket per key. A limit of n per window becomes
// a bucket refilling at n/window with burst n.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request for key is permitted now.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	every := rate.Every(window / time.Duration(limit))

	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok || l.Burst() != limit || l.Limit() != every {
		l = rate.NewLimiter(every, limit)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()

	return l.Allow(), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
