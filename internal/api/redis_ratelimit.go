/**
 * @description
 * Redis-backed rate limiting for deployments running more than one instance,
 * where the in-memory limiter would give each instance its own allowance.
 * Uses a fixed window counter per client IP, maintained atomically by a
 * small Lua script.
 */
package api

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter counts requests per subject in fixed windows shared
// across service instances.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter keyed under the given prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "subscriptions:rate_limit"
	}

	return &RedisRateLimiter{
		client: client,
		prefix: strings.TrimSuffix(trimmed, ":"),
	}
}

// Consume counts a hit for the subject within the window and returns the
// running count plus how many seconds remain until the window resets.
func (r *RedisRateLimiter) Consume(ctx context.Context, subject string, window time.Duration) (count int, retryAfterSeconds int, err error) {
	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := r.prefix + ":" + strings.TrimSpace(subject)
	rawResult, err := rateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}

// RedisRateLimitMiddleware limits each client IP to requestsPerMinute
// requests across all instances sharing the Redis.
func RedisRateLimitMiddleware(client redis.UniversalClient, requestsPerMinute int) func(http.Handler) http.Handler {
	limiter := NewRedisRateLimiter(client, "")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, retryAfter, err := limiter.Consume(r.Context(), getClientIP(r), time.Minute)
			if err != nil {
				// A limiter outage must not take the API down with it.
				log.Printf("Rate limiter unavailable, letting request through: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			if count > requestsPerMinute {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))

			next.ServeHTTP(w, r)
		})
	}
}
