package ratelimit

import (
	"context"
	"sync"
	"time"
)

// tokenBucket tracks remaining tokens for a single key.
type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is an in-process Limiter backed by per-key token buckets.
//
// Buckets refill continuously at the configured rate up to the burst
// capacity. Keys that go quiet are evicted in the background so the map
// does not grow without bound.
type MemoryLimiter struct {
	rate  float64 // refill rate in tokens per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing rate sustained requests per
// second per key with bursts up to burst. It starts an eviction goroutine;
// call Close to stop it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow takes one token from key's bucket, reporting whether one was
// available. A false result means the caller should be rejected.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		// New key starts full, and this request consumes one token.
		m.buckets[key] = &tokenBucket{
			tokens:   m.burst - 1,
			lastSeen: now,
		}
		return true, nil
	}

	// Credit tokens for the time since the last request, capped at burst.
	idle := now.Sub(b.lastSeen).Seconds()
	b.tokens += idle * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const (
	evictInterval = time.Minute
	idleEviction  = 10 * time.Minute
)

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

// evictIdle drops buckets idle longer than idleEviction. A dropped key
// simply starts over with a full bucket on its next request.
func (m *MemoryLimiter) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-idleEviction)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
