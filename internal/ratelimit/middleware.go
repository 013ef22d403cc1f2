package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/neurogenx/neurogenx/internal/model"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// rate limiting for the request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID so the 429 body matches the API
// error envelope. Injected to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// Middleware returns HTTP middleware that rejects requests once their key
// runs out of tokens. Limiter errors fail open.
func Middleware(limiter Limiter, keyFunc KeyFunc, reqIDFunc RequestIDFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if limiter == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retry := 1
				if ra, ok := limiter.(interface{ RetryAfter(string) time.Duration }); ok {
					retry = max(1, int(math.Ceil(ra.RetryAfter(key).Seconds())))
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				writeRateLimitError(w, requestID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc keys requests by client IP taken from RemoteAddr only.
// X-Forwarded-For is client-controlled and is not trusted.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
