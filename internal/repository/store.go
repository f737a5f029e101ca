package repository

import (
	"context"
	"errors"
	"time"
)

// Store is the key-value surface the pipeline needs. Every single-key
// operation is atomic; Take is an atomic read-and-delete.
type Store interface {
	// Plain values with optional TTL (ttl <= 0 means no expiry)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Incr increments a counter, setting ttl when the counter is created
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Hashes
	HSet(ctx context.Context, key, field string, value []byte) error
	HSetNX(ctx context.Context, key, field string, value []byte) (bool, error)
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HLen(ctx context.Context, key string) (int64, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// Capped lists, newest first
	LPushCapped(ctx context.Context, key string, value []byte, max int64) error
	LRange(ctx context.Context, key string, limit int64) ([][]byte, error)

	Ping(ctx context.Context) error
}

// Repository errors
var (
	ErrNotFound        = &RepositoryError{Message: "record not found"}
	ErrUnavailable     = &RepositoryError{Message: "store unavailable"}
	ErrMalformedRecord = &RepositoryError{Message: "malformed record"}
)

// RepositoryError represents a repository error
type RepositoryError struct {
	Message string
}

func (e *RepositoryError) Error() string {
	return e.Message
}

// IsNotFound reports whether err means the key is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err is a transient backend failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
