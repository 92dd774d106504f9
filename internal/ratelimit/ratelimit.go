// Package ratelimit spaces out detail fetches so the crawl stays inside the
// site's implicit rate tolerance.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// SimpleRateLimiter enforces a fixed minimum gap between consecutive
// operations.
type SimpleRateLimiter struct {
	delay      time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewSimpleRateLimiter(delay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{delay: delay}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	if elapsed < r.delay {
		t := time.NewTimer(r.delay - elapsed)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	r.lastAction = time.Now()
	return nil
}
