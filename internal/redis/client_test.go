package redis

import (
	"context"
	"testing"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig().Redis
	cfg.URL = "redis://" + mr.Addr()

	c, err := NewClient(context.Background(), &cfg)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	assert.NoError(t, c.Ping(ctx))
	assert.Equal(t, 20, c.PoolStats().PoolSize)

	// the store shares the connection
	require.NoError(t, c.Store().Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("k"))
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestNewClient_KeepsDefaultsForZeroSettings(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), &config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	assert.Positive(t, c.PoolStats().PoolSize)
}

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	assert.Error(t, err)

	cfg := config.RedisConfig{URL: "not a url"}
	_, err = NewClient(context.Background(), &cfg)
	assert.Error(t, err)

	cfg = config.RedisConfig{URL: "redis://127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1}
	_, err = NewClient(context.Background(), &cfg)
	assert.Error(t, err)
}
