package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/config"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/go-redis/redis/v8"
)

// pingTimeout bounds the connection check of NewClient
const pingTimeout = 5 * time.Second

// PoolStats is the connection pool snapshot shown on the admin stats page
type PoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"totalConns"`
	IdleConns  uint32 `json:"idleConns"`
	StaleConns uint32 `json:"staleConns"`
	PoolSize   int    `json:"poolSize"`
}

// Client is the shared Redis connection behind the registry, sessions,
// challenges, access log and rate limiter
type Client struct {
	client   *redis.Client
	store    *repository.RedisStore
	poolSize int
}

// NewClient connects to cfg.URL and fails when the server does not answer
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	opt, err := options(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client:   client,
		store:    repository.NewRedisStore(client),
		poolSize: opt.PoolSize,
	}, nil
}

// options applies pool and timeout settings on top of the URL; zero values
// keep the go-redis defaults
func options(cfg *config.RedisConfig) (*redis.Options, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opt.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries != 0 {
		opt.MaxRetries = cfg.MaxRetries
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}
	return opt, nil
}

// Store returns the key-value store over this connection
func (c *Client) Store() *repository.RedisStore {
	return c.store
}

// Ping reports whether Redis answers, for the health endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.client.Close()
}

// PoolStats returns the current pool counters
func (c *Client) PoolStats() PoolStats {
	s := c.client.PoolStats()
	return PoolStats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		StaleConns: s.StaleConns,
		PoolSize:   c.poolSize,
	}
}
