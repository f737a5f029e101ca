package security

import (
	"context"
	"sync"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"golang.org/x/time/rate"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter limits requests per network address. The shared store holds a
// fixed window counter; a local token bucket takes over when the store fails.
type RateLimiter struct {
	store  repository.Store
	limit  int
	window time.Duration
	burst  int

	mu          sync.Mutex
	localLimits map[string]*localLimit
	now         func() time.Time
}

type localLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter allowing limit requests per window
func NewRateLimiter(store repository.Store, limit int, window time.Duration, burst int) *RateLimiter {
	if burst <= 0 || burst > limit {
		burst = limit
	}
	return &RateLimiter{
		store:       store,
		limit:       limit,
		window:      window,
		burst:       burst,
		localLimits: make(map[string]*localLimit),
		now:         time.Now,
	}
}

// Allow checks if a request is allowed based on rate limits
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	// Try the shared store first if available
	if rl.store != nil {
		count, err := rl.store.Incr(ctx, rateLimitPrefix+key, rl.window)
		if err == nil {
			return count <= int64(rl.limit)
		}
	}

	// Use local rate limiting as fallback
	return rl.checkLocalLimit(key)
}

// checkLocalLimit checks rate limit using a local token bucket
func (rl *RateLimiter) checkLocalLimit(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	l, exists := rl.localLimits[key]
	if !exists {
		every := rl.window / time.Duration(rl.limit)
		l = &localLimit{limiter: rate.NewLimiter(rate.Every(every), rl.burst)}
		rl.localLimits[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// CleanupExpiredLimits removes local limits idle for longer than the window
func (rl *RateLimiter) CleanupExpiredLimits() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, l := range rl.localLimits {
		if now.Sub(l.lastSeen) >= rl.window {
			delete(rl.localLimits, key)
			removed++
		}
	}
	return removed
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_limits":       len(rl.localLimits),
		"requests_per_window": rl.limit,
		"window_seconds":      rl.window.Seconds(),
		"shared_store":        rl.store != nil,
	}
}
