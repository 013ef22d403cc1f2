// Package ratelimit throttles run creation per client.
//
// MemoryLimiter keeps one token bucket per key in process memory, which is
// enough for a single orchestrator instance. Limiter is the seam for a
// shared implementation if runs are ever accepted by several instances.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. An error signals a
	// limiter malfunction and callers fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases background resources.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
