// Package ratelimit throttles inbound proof requests per client address,
// grounded on the token-bucket-per-key pattern in
// cuemby-warren's pkg/ingress/middleware.go (CheckRateLimit /
// CleanupRateLimiters), retargeted from per-HTTP-client-IP to per-gRPC-peer
// address and given a proper idle-eviction sweep instead of a clear-all
// fallback.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out a golang.org/x/time/rate.Limiter per client address,
// evicting buckets that have gone idle so long-running dispatchers don't
// accumulate one bucket per ephemeral client forever.
type Limiter struct {
	rps   float64
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New constructs a Limiter allowing rps requests per second per client
// address, with burst allowance burst.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rps,
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request from clientAddr may proceed right now,
// consuming a token from its bucket if so.
func (l *Limiter) Allow(clientAddr string) bool {
	l.mu.Lock()
	b, ok := l.buckets[clientAddr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.buckets[clientAddr] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Sweep drops any bucket that hasn't been touched since before cutoff.
// The dispatcher's background loop calls this periodically; see
// StartCleanup.
func (l *Limiter) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for addr, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, addr)
			removed++
		}
	}
	return removed
}

// Len reports the number of distinct client buckets currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartCleanup runs Sweep on a ticker until the returned stop function is
// called, evicting buckets idle for longer than idleAfter. Callers invoke
// stop to shut the loop down during graceful drain.
func (l *Limiter) StartCleanup(interval, idleAfter time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				l.Sweep(idleAfter)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
