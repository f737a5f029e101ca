package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewInMemoryStore())
	})
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t)
		fn(t, s)
	})
}

func TestStore_Values(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, "missing")
		assert.True(t, IsNotFound(err))

		require.NoError(t, s.Set(ctx, "challenge:a", []byte("one"), time.Minute))
		require.NoError(t, s.Set(ctx, "challenge:b", []byte("two"), 0))
		require.NoError(t, s.Set(ctx, "other", []byte("three"), 0))

		v, err := s.Get(ctx, "challenge:a")
		require.NoError(t, err)
		assert.Equal(t, "one", string(v))

		keys, err := s.Keys(ctx, "challenge:")
		require.NoError(t, err)
		assert.Equal(t, []string{"challenge:a", "challenge:b"}, keys)

		require.NoError(t, s.Delete(ctx, "challenge:a", "challenge:b"))
		_, err = s.Get(ctx, "challenge:a")
		assert.True(t, IsNotFound(err))
	})
}

func TestStore_TakeIsSingleUse(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

		v, err := s.Take(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(v))

		_, err = s.Take(ctx, "k")
		assert.True(t, IsNotFound(err))
	})
}

func TestStore_TakeConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "race", []byte("v"), time.Minute))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Take(ctx, "race"); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}

func TestStore_Incr(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := int64(1); i <= 3; i++ {
			n, err := s.Incr(ctx, "counter", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}
	})
}

func TestRedisStore_IncrAlwaysExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	_, err := s.Incr(ctx, "rate:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("rate:1.2.3.4"))

	// a counter left without a ttl picks one up on the next increment
	require.NoError(t, mr.Set("fail:5.6.7.8", "4"))
	n, err := s.Incr(ctx, "fail:5.6.7.8", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 10*time.Minute, mr.TTL("fail:5.6.7.8"))

	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists("fail:5.6.7.8"))
}

func TestStore_Hashes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ok, err := s.HSetNX(ctx, "bans", "hwid-1", []byte("a"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.HSetNX(ctx, "bans", "hwid-1", []byte("b"))
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.HSet(ctx, "bans", "1.2.3.4", []byte("c")))

		v, err := s.HGet(ctx, "bans", "hwid-1")
		require.NoError(t, err)
		assert.Equal(t, "a", string(v))

		_, err = s.HGet(ctx, "bans", "nobody")
		assert.True(t, IsNotFound(err))

		n, err := s.HLen(ctx, "bans")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		all, err := s.HGetAll(ctx, "bans")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		removed, err := s.HDel(ctx, "bans", "hwid-1", "nobody")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})
}

func TestStore_Sets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SAdd(ctx, "whitelist:hwid", "b", "a"))

		ok, err := s.SIsMember(ctx, "whitelist:hwid", "a")
		require.NoError(t, err)
		assert.True(t, ok)

		members, err := s.SMembers(ctx, "whitelist:hwid")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, members)

		require.NoError(t, s.SRem(ctx, "whitelist:hwid", "a"))
		ok, err = s.SIsMember(ctx, "whitelist:hwid", "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_CappedList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, v := range []string{"1", "2", "3", "4"} {
			require.NoError(t, s.LPushCapped(ctx, "logs", []byte(v), 3))
		}

		items, err := s.LRange(ctx, "logs", 0)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "4", string(items[0]))
		assert.Equal(t, "2", string(items[2]))

		items, err = s.LRange(ctx, "logs", 1)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})
}

func TestInMemoryStore_Expiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewInMemoryStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, s.Set(ctx, "long", []byte("y"), time.Hour))

	now = now.Add(2 * time.Second)

	// still present in raw storage until read or swept
	assert.Equal(t, 2, s.Len())

	_, err := s.Get(ctx, "short")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Set(ctx, "short2", []byte("x"), time.Second))
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, s.CleanupExpired(ctx))
}

func TestRedisStore_Expiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "challenge:x", []byte("x"), 2*time.Minute))
	mr.FastForward(3 * time.Minute)

	_, err := s.Get(ctx, "challenge:x")
	assert.True(t, IsNotFound(err))
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "any")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsNotFound(err))
}
