package security

import (
	"context"
	"testing"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_SharedWindow(t *testing.T) {
	rl := NewRateLimiter(repository.NewInMemoryStore(), 3, time.Minute, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(ctx, "1.2.3.4"), "request %d", i)
	}
	assert.False(t, rl.Allow(ctx, "1.2.3.4"))
	assert.True(t, rl.Allow(ctx, "5.6.7.8"))
}

func TestRateLimiter_LocalFallback(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(nil, 60, time.Minute, 2)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "ip"))
	assert.True(t, rl.Allow(ctx, "ip"))
	assert.False(t, rl.Allow(ctx, "ip"))

	// one token per second refills
	now = now.Add(time.Second)
	assert.True(t, rl.Allow(ctx, "ip"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, rl.CleanupExpiredLimits())
}
