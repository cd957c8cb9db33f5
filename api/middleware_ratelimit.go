package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// submissionWindow is how long a citizen's submission count accumulates
// before it resets.
const submissionWindow = 24 * time.Hour

// RateLimiter throttles issue submissions per citizen (keyed by remote
// address) using a redis counter with a daily TTL. A redis outage fails
// open: throttling is protection, not correctness.
type RateLimiter struct {
	Client *redis.Client
	Limit  int64
	Prefix string
}

// NewRateLimiter builds a limiter allowing limit submissions per window.
func NewRateLimiter(client *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{Client: client, Limit: limit, Prefix: "issue_limit"}
}

// Middleware wraps a handler with the submission throttle.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.Client == nil {
			next.ServeHTTP(w, r)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		key := fmt.Sprintf("%s:%s", rl.Prefix, host)

		count, err := rl.Client.Incr(r.Context(), key).Result()
		if err != nil {
			zap.S().Warnw("rate limiter unavailable, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		// Set TTL only for the first increment (when count = 1)
		if count == 1 {
			if err := rl.Client.Expire(r.Context(), key, submissionWindow).Err(); err != nil {
				zap.S().Warnw("failed to set rate limit TTL", "error", err)
			}
		}

		if count > rl.Limit {
			retryAfter, _ := rl.Client.TTL(r.Context(), key).Result()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error": "rate limit exceeded", "retry_after": %.0f}`, retryAfter.Seconds())
			return
		}

		next.ServeHTTP(w, r)
	})
}
