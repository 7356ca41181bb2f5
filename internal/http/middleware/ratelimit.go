// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter keyed by the
// authenticated user (or client IP for anonymous traffic), with opportunistic
// eviction of idle buckets. Replays detected by IdempotencyValidator are not
// charged. The limiter is process-local; it is abuse control, not an
// authorization mechanism.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "moviereviews_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by identity kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(rateLimited)
}

// keyFunc selects the identity used to key a rate-limit bucket, e.g.
// "user:<id>" or "ip:<addr>".
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys authenticated requests by user id and anonymous ones by
// client IP. Authenticate must run first.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := CurrentUserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per identity.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter allows rps requests per second with the given burst per
// identity.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Evict before touching the requested key so a stale entry is not
	// refreshed by its own lookup.
	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator exempted this request.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler returns the Gin middleware. Mount it after Authenticate so
// signed-in callers get their own bucket.
//
// Behavior:
//   - Replays flagged by IdempotencyValidator skip the bucket.
//   - Otherwise one token is taken from the caller's bucket.
//   - An empty bucket aborts with 429 too_many_requests, Retry-After: 1, and
//     increments the limiter counter labeled "user" or "ip".
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		kind := "ip"
		if CurrentUserID(c) != "" {
			kind = "user"
		}
		rateLimited.WithLabelValues(kind).Inc()
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
