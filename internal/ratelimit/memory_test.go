package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogenx/neurogenx/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newMemoryLimiter(rate, burst, clock.Now), clock
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newTestLimiter(1, 3)
	ctx := context.Background()
	for i := range 3 {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Second, m.RetryAfter("k1"))
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, clock := newTestLimiter(2, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k1")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "k1")
	require.False(t, ok)

	clock.Advance(250 * time.Millisecond)
	ok, _ = m.Allow(ctx, "k1")
	assert.False(t, ok, "half a token is not enough")

	clock.Advance(250 * time.Millisecond)
	ok, _ = m.Allow(ctx, "k1")
	assert.True(t, ok)
}

func TestMemoryLimiterTokensCapAtBurst(t *testing.T) {
	m, clock := newTestLimiter(100, 2)
	ctx := context.Background()
	_, _ = m.Allow(ctx, "k1")
	clock.Advance(time.Hour)

	allowed := 0
	for range 5 {
		if ok, _ := m.Allow(ctx, "k1"); ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m, _ := newTestLimiter(1, 1)
	ctx := context.Background()
	ok, _ := m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m, clock := newTestLimiter(1, 1)
	ctx := context.Background()
	_, _ = m.Allow(ctx, "old")
	clock.Advance(staleThreshold + time.Second)
	_, _ = m.Allow(ctx, "fresh")

	m.evictStale()
	assert.Equal(t, 1, m.Len())
	_, tracked := m.buckets["fresh"]
	assert.True(t, tracked)
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newTestLimiter(0, 50)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Go(func() {
			if ok, _ := m.Allow(context.Background(), "shared"); ok {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed.Load())
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	for range 100 {
		ok, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }
func (failingLimiter) Close() error                                { return nil }

func TestMiddleware(t *testing.T) {
	m, _ := newTestLimiter(1, 1)
	handler := Middleware(m, IPKeyFunc, func(*http.Request) string { return "req-1" }, slogDiscard())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) }))

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)

	other := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	handler := Middleware(failingLimiter{}, IPKeyFunc, nil, slogDiscard())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", IPKeyFunc(req))
	req.RemoteAddr = "192.168.1.4:1234"
	assert.Equal(t, "192.168.1.4", IPKeyFunc(req))
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
