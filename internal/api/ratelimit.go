/**
 * @description
 * Per-client rate limiting for the subscription service. Uses an in-memory
 * token bucket per client IP; buckets refill continuously and idle buckets
 * are evicted in the background.
 */
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter tracks a token bucket per client key.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	capacity int
	refill   time.Duration
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter whose buckets hold capacity tokens and
// regain one token every refill interval.
func NewRateLimiter(capacity int, refill time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*tokenBucket),
		capacity: capacity,
		refill:   refill,
	}

	go rl.evictIdleBuckets()

	return rl
}

// Allow reports whether a request from the given key may proceed, consuming
// one token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{tokens: rl.capacity, lastRefill: time.Now()}
		rl.buckets[key] = bucket
	}

	now := time.Now()
	if refilled := int(now.Sub(bucket.lastRefill) / rl.refill); refilled > 0 {
		bucket.tokens += refilled
		if bucket.tokens > rl.capacity {
			bucket.tokens = rl.capacity
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// evictIdleBuckets drops buckets untouched for long enough to be full again,
// so the map does not grow with every client ever seen.
func (rl *RateLimiter) evictIdleBuckets() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, bucket := range rl.buckets {
			if now.Sub(bucket.lastRefill) > 10*time.Minute {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware limits each client IP to requestsPerMinute requests.
func RateLimitMiddleware(requestsPerMinute int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(requestsPerMinute, time.Minute/time.Duration(requestsPerMinute))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			if !limiter.Allow(clientIP) {
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request, preferring proxy
// headers over the socket address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs; the first is the client.
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
