package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshguard/fraudhub/internal/telemetry"
)

// Per-submitter token bucket rate limiter for the ingest endpoint.
//
// Each submitter gets its own bucket with a configurable capacity and
// refill rate. Buckets are keyed by the X-Entity-ID header when
// present, falling back to client IP for malformed requests, so one
// flooding participant cannot starve the others. When a bucket is
// empty the request receives HTTP 429 with a Retry-After header.
//
// A background goroutine drops buckets idle for more than
// cleanupIdleDuration to prevent unbounded growth from transient
// submitters.

const cleanupIdleDuration = 10 * time.Minute

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

// RateLimiter holds per-submitter bucket state.
type RateLimiter struct {
	rate    float64 // tokens added per second
	burst   float64 // max bucket capacity
	perMin  int
	metrics *telemetry.Metrics

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter creates a limiter allowing ratePerMin requests per
// minute per submitter, with a burst capacity of burst requests.
func NewRateLimiter(ratePerMin, burst int, metrics *telemetry.Metrics) *RateLimiter {
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		perMin:  ratePerMin,
		metrics: metrics,
		buckets: make(map[string]*bucket),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !b.lastSeen.IsZero() {
		b.tokens += now.Sub(b.lastSeen).Seconds() * rl.rate
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
	}
	b.lastSeen = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}

	retryAfter := time.Duration((1.0-b.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// Middleware returns a Gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Entity-ID")
		if key == "" {
			key = c.ClientIP()
		}
		allowed, retryAfter := rl.allow(key)
		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RecordRejected("rate_limited")
			}
			c.Header("Retry-After", retryAfter.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter.String(),
				"limit":      fmt.Sprintf("%d requests/minute per entity", rl.perMin),
			})
			return
		}
		c.Next()
	}
}

// cleanupLoop removes stale buckets every cleanupIdleDuration.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
