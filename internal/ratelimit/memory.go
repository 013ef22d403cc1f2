package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with an in-memory token bucket per key.
//
// Each key refills at rate tokens per second up to burst. A background
// goroutine evicts keys idle for longer than staleThreshold.
type MemoryLimiter struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

const staleThreshold = 10 * time.Minute

// NewMemoryLimiter creates a token bucket limiter allowing rate requests
// per second per key with bursts of up to burst. Call Close to stop the
// eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := newMemoryLimiter(rate, burst, time.Now)
	go m.cleanup()
	return m
}

func newMemoryLimiter(rate float64, burst int, now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
}

// Allow consumes one token from key's bucket and reports whether one was
// available.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.burst - 1, lastAccess: now}
		return m.burst >= 1, nil
	}

	b.tokens = min(m.burst, b.tokens+now.Sub(b.lastAccess).Seconds()*m.rate)
	b.lastAccess = now
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// RetryAfter estimates how long key must wait for its next token.
func (m *MemoryLimiter) RetryAfter(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok || b.tokens >= 1 || m.rate <= 0 {
		return 0
	}
	return time.Duration((1 - b.tokens) / m.rate * float64(time.Second))
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-staleThreshold)
	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
