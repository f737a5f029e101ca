package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements Store on top of go-redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// wrap maps go-redis errors onto repository errors
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return fmt.Errorf("redis %s: %v: %w", op, err, ErrUnavailable)
}

// Set stores a value
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrap("set", s.client.Set(ctx, key, value, ttl).Err())
}

// Get retrieves a value
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrap("get", err)
	}
	return b, nil
}

// Take retrieves and deletes a value with GETDEL
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		return nil, wrap("getdel", err)
	}
	return b, nil
}

// Delete removes keys
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("del", s.client.Del(ctx, keys...).Err())
}

// Keys lists keys starting with prefix using SCAN
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, wrap("scan", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// incrScript increments KEYS[1] and applies the ttl (ARGV[1], ms) whenever
// the key has none, so a counter can never outlive its window
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if ttl > 0 and redis.call("PTTL", KEYS[1]) == -1 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return n
`)

// Incr increments a counter and sets ttl on creation, in one round trip
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, wrap("incr", err)
	}
	return n, nil
}

// HSet sets a hash field
func (s *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return wrap("hset", s.client.HSet(ctx, key, field, value).Err())
}

// HSetNX sets a hash field only if it does not exist
func (s *RedisStore) HSetNX(ctx context.Context, key, field string, value []byte) (bool, error) {
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, wrap("hsetnx", err)
	}
	return ok, nil
}

// HGet retrieves a hash field
func (s *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	b, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		return nil, wrap("hget", err)
	}
	return b, nil
}

// HDel removes hash fields
func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, wrap("hdel", err)
	}
	return n, nil
}

// HGetAll returns a whole hash
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap("hgetall", err)
	}
	out := make(map[string][]byte, len(m))
	for f, v := range m {
		out[f] = []byte(v)
	}
	return out, nil
}

// HLen returns the number of fields of a hash
func (s *RedisStore) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return 0, wrap("hlen", err)
	}
	return n, nil
}

// SAdd adds set members
func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap("sadd", s.client.SAdd(ctx, key, args...).Err())
}

// SRem removes set members
func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap("srem", s.client.SRem(ctx, key, args...).Err())
}

// SIsMember reports set membership
func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrap("sismember", err)
	}
	return ok, nil
}

// SMembers returns the sorted members of a set
func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap("smembers", err)
	}
	sort.Strings(members)
	return members, nil
}

// LPushCapped prepends a value and trims the list in one pipeline
func (s *RedisStore) LPushCapped(ctx context.Context, key string, value []byte, max int64) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	if max > 0 {
		pipe.LTrim(ctx, key, 0, max-1)
	}
	_, err := pipe.Exec(ctx)
	return wrap("lpush", err)
}

// LRange returns up to limit entries from the head of a list
func (s *RedisStore) LRange(ctx context.Context, key string, limit int64) ([][]byte, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	items, err := s.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, wrap("lrange", err)
	}
	out := make([][]byte, len(items))
	for i, v := range items {
		out[i] = []byte(v)
	}
	return out, nil
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}
