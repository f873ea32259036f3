// Package ratelimit implements fixed-window request counting per client and
// endpoint class. Thresholds sit deliberately below the upstream provider's
// published limits so we throttle ourselves before the provider does.
package ratelimit

import (
	"sync"
	"time"

	"github.com/fitroom/backend/internal/domain"
)

// Class groups endpoints that share a window and threshold.
type Class string

const (
	// ClassAuth covers session init and logout.
	ClassAuth Class = "auth"
	// ClassSession covers validate and refresh.
	ClassSession Class = "session"
	// ClassUpstream covers every call that reaches the prediction provider.
	ClassUpstream Class = "upstream"
)

// Limit is the policy for one class.
type Limit struct {
	Max    int
	Window time.Duration
}

type bucketKey struct {
	client string
	class  Class
}

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter tracks windows for all (client, class) pairs. Safe for concurrent
// use by request handlers.
type Limiter struct {
	mu        sync.Mutex
	limits    map[Class]Limit
	buckets   map[bucketKey]*bucket
	lastPrune time.Time
}

// New creates a limiter with the given per-class policies.
func New(limits map[Class]Limit) *Limiter {
	return &Limiter{
		limits:    limits,
		buckets:   make(map[bucketKey]*bucket),
		lastPrune: time.Now(),
	}
}

// Allow records one request for client in the given class. Returns a
// *domain.RateLimitError carrying the time until the window resets when the
// limit is breached.
func (l *Limiter) Allow(client string, class Class) error {
	limit, ok := l.limits[class]
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.pruneLocked(now)

	key := bucketKey{client: client, class: class}
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= limit.Window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	if b.count >= limit.Max {
		return &domain.RateLimitError{
			RetryAfter: b.windowStart.Add(limit.Window).Sub(now),
		}
	}
	b.count++
	return nil
}

// pruneLocked drops buckets whose window ended long ago so idle clients do
// not accumulate forever. Runs at most every ten minutes.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < 10*time.Minute {
		return
	}
	l.lastPrune = now
	for key, b := range l.buckets {
		window := l.limits[key.class].Window
		if now.Sub(b.windowStart) >= 2*window {
			delete(l.buckets, key)
		}
	}
}
