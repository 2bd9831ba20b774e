package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/rs/zerolog/log"
)

// Per-user token buckets. A bucket holds Burst tokens and refills at
// MaxRequests/WindowSeconds tokens per second, so a device reconnecting
// after a long offline stretch can drain its upload queue in a burst
// without one user starving the others.

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket with the given capacity and refill rate
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes a token if one is available. It returns the tokens left,
// when the next token arrives (for Retry-After) and when the bucket is
// full again (for X-RateLimit-Reset).
func (tb *TokenBucket) Allow() (allowed bool, remaining int, nextToken, fullReset time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	fullReset = now.Add(secondsToDuration((tb.capacity - tb.tokens) / tb.refillRate))

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens), now, fullReset
	}

	nextToken = now.Add(secondsToDuration((1.0 - tb.tokens) / tb.refillRate))
	return false, 0, nextToken, fullReset
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefill
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RateLimiter manages per-user token buckets
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*TokenBucket
	config  RateLimitInfo
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter and starts evicting idle buckets
func NewRateLimiter(config RateLimitInfo) *RateLimiter {
	rl := newRateLimiter(config, time.Now)
	go rl.cleanupLoop()
	return rl
}

func newRateLimiter(config RateLimitInfo, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		now:     now,
	}
}

func (rl *RateLimiter) bucket(userID string) *TokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[userID]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[userID]; ok {
		return b
	}
	refill := float64(rl.config.MaxRequests) / float64(rl.config.WindowSeconds)
	b = newTokenBucket(rl.config.Burst, refill, rl.now)
	rl.buckets[userID] = b
	return b
}

// Allow checks the user's bucket, see TokenBucket.Allow
func (rl *RateLimiter) Allow(userID string) (bool, int, time.Time, time.Time) {
	return rl.bucket(userID).Allow()
}

// evictIdle drops buckets unused for longer than maxIdle
func (rl *RateLimiter) evictIdle(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for userID, b := range rl.buckets {
		if rl.now().Sub(b.idleSince()) > maxIdle {
			delete(rl.buckets, userID)
			evicted++
		}
	}
	return evicted
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if n := rl.evictIdle(time.Hour); n > 0 {
			log.Debug().Int("evicted", n).Msg("evicted idle rate limit buckets")
		}
	}
}

// RateLimitMiddleware enforces config per authenticated user. Each call
// creates its own limiter so route groups can carry different limits.
func RateLimitMiddleware(config RateLimitInfo) func(http.Handler) http.Handler {
	return rateLimit(NewRateLimiter(config), config)
}

func rateLimit(limiter *RateLimiter, config RateLimitInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserID(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, nextToken, fullReset := limiter.Allow(userID)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(fullReset.Unix(), 10))
			w.Header().Set("X-RateLimit-Burst", strconv.Itoa(config.Burst))

			if !allowed {
				retryAfter := int(nextToken.Sub(limiter.now()).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Ctx(r.Context()).Warn().
					Str("userId", userID).
					Str("path", r.URL.Path).
					Int("retryAfter", retryAfter).
					Msg("rate limit exceeded")

				writeError(w, r, http.StatusTooManyRequests,
					"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
