// Package ratelimit implements the SessionManager's per-key admission
// control: each distinct key (typically a client/session identifier) gets
// its own token-bucket limiter, allocated lazily on first use rather than
// fixed at construction.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a fixed-window-style admission control: at most `limit`
// permits per `window`, tracked independently per key. Internally it uses
// a golang.org/x/time/rate.Limiter per key — rate.Every(window/limit) with
// burst == limit — which smooths admission across the window rather than
// resetting a hard counter at the boundary; for the whole-window acceptance
// rate this is observationally equivalent and avoids the boundary burst a
// naive fixed window allows.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  float64 // seconds
	buckets map[string]*rate.Limiter
}

// New creates a Limiter admitting at most limit calls per window (seconds)
// for each distinct key.
func New(limit int, windowSeconds float64) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowSeconds,
		buckets: make(map[string]*rate.Limiter),
	}
}

// bucket returns key's limiter, creating it on first use. Caller must hold mu.
func (l *Limiter) bucket(key string) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(l.limit)/l.window), l.limit)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether a call under key is admitted right now, consuming
// one permit if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b := l.bucket(key)
	l.mu.Unlock()
	return b.Allow()
}

// Wait blocks under key until a permit is available or ctx is done,
// consuming one permit on success. Unlike Allow, it never rejects outright;
// it backs off and retries, so it's only appropriate where the caller can
// tolerate blocking (e.g. a dispatch goroutine, not a synchronous API call).
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	b := l.bucket(key)
	l.mu.Unlock()
	return b.Wait(ctx)
}

// Forget drops a key's bucket, e.g. once its owning session is destroyed.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
