package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newRegistry(cfg Config) (*Registry, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	cfg.Now = c.Now
	return New(repository.NewInMemoryStoreWithClock(c.Now), cfg), c
}

func TestRegistry_BanPrecedence(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		ban  domain.BanRequest
	}{
		{"device", domain.BanRequest{DeviceID: "hw-1"}},
		{"network", domain.BanRequest{NetworkAddress: "10.0.0.1"}},
		{"identity", domain.BanRequest{IdentityID: "42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRegistry(Config{})
			banID, err := r.Ban(ctx, tt.ban)
			require.NoError(t, err)

			res, err := r.IsBlocked(ctx, "hw-1", "10.0.0.1", "42")
			require.NoError(t, err)
			assert.True(t, res.Blocked)
			assert.Equal(t, banID, res.BanID)
			assert.Equal(t, "Manual", res.Reason)

			res, err = r.IsBlocked(ctx, "hw-2", "10.0.0.2", "43")
			require.NoError(t, err)
			assert.False(t, res.Blocked)
		})
	}
}

func TestRegistry_BanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(Config{})

	id1, err := r.Ban(ctx, domain.BanRequest{DeviceID: "hw", IdentityID: "7", Reason: "cheating"})
	require.NoError(t, err)

	id2, err := r.Ban(ctx, domain.BanRequest{DeviceID: "hw", IdentityID: "7", Reason: "again"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	count, err := r.BanCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	removed, err := r.UnbanByID(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	res, err := r.IsBlocked(ctx, "hw", "", "7")
	require.NoError(t, err)
	assert.False(t, res.Blocked)
}

func TestRegistry_BanKeysReportsNewKeys(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(Config{})

	first, created, err := r.BanKeys(ctx, domain.BanRequest{DeviceID: "hw"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := r.BanKeys(ctx, domain.BanRequest{DeviceID: "hw"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)

	mixed, created, err := r.BanKeys(ctx, domain.BanRequest{DeviceID: "hw", IdentityID: "7"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first, mixed)

	res, err := r.IsBlocked(ctx, "", "", "7")
	require.NoError(t, err)
	assert.Equal(t, mixed, res.BanID)
}

func TestRegistry_BanRequiresKey(t *testing.T) {
	r, _ := newRegistry(Config{})
	_, err := r.Ban(context.Background(), domain.BanRequest{Reason: "nothing"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRegistry_ListAndClearBans(t *testing.T) {
	ctx := context.Background()
	r, c := newRegistry(Config{})

	_, err := r.Ban(ctx, domain.BanRequest{NetworkAddress: "1.1.1.1"})
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = r.Ban(ctx, domain.BanRequest{NetworkAddress: "2.2.2.2"})
	require.NoError(t, err)

	bans, err := r.ListBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 2)
	assert.Equal(t, "2.2.2.2", bans[0].Key)

	ok, err := r.Unban(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.ClearBans(ctx))
	count, err := r.BanCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRegistry_WhitelistSuppressesChecks(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(Config{})

	_, err := r.Ban(ctx, domain.BanRequest{DeviceID: "hw-bad"})
	require.NoError(t, err)
	_, err = r.Suspend(ctx, domain.SuspendIdentity, "42", "", 0)
	require.NoError(t, err)

	id := domain.Identity{DeviceID: "hw-bad", IdentityID: "42", NetworkAddress: "9.9.9.9"}

	d, err := r.Check(ctx, id)
	require.NoError(t, err)
	assert.True(t, d.Blocked)
	assert.Contains(t, d.Reason, "Suspended")

	require.NoError(t, r.AddWhitelist(ctx, domain.WhitelistNetwork, "9.9.9.9"))

	d, err = r.Check(ctx, id)
	require.NoError(t, err)
	assert.True(t, d.Whitelisted)
	assert.False(t, d.Blocked)
}

func TestRegistry_StaticWhitelist(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(Config{StaticWhitelist: domain.Whitelist{IdentityIDs: []string{"1"}}})

	assert.True(t, r.IsWhitelisted(ctx, "", "1", ""))
	assert.ErrorIs(t, r.RemoveWhitelist(ctx, domain.WhitelistIdentity, "1"), domain.ErrStaticWhitelist)

	require.NoError(t, r.AddWhitelist(ctx, domain.WhitelistIdentity, "2"))
	wl, err := r.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, wl.IdentityIDs)

	require.NoError(t, r.RemoveWhitelist(ctx, domain.WhitelistIdentity, "2"))
	assert.False(t, r.IsWhitelisted(ctx, "", "2", ""))
}

func TestRegistry_SuspendPriorityAndExpiry(t *testing.T) {
	ctx := context.Background()
	r, c := newRegistry(Config{})

	_, err := r.Suspend(ctx, domain.SuspendDevice, "hw", "device reason", time.Minute)
	require.NoError(t, err)
	_, err = r.Suspend(ctx, domain.SuspendSession, "sess", "killed", 0)
	require.NoError(t, err)

	res, err := r.IsSuspended(ctx, "hw", "", "sess")
	require.NoError(t, err)
	assert.Equal(t, domain.SuspendSession, res.Type)
	assert.Equal(t, "killed", res.Reason)

	res, err = r.IsSuspended(ctx, "hw", "", "")
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.Equal(t, domain.SuspendDevice, res.Type)

	c.Advance(2 * time.Minute)

	res, err = r.IsSuspended(ctx, "hw", "", "")
	require.NoError(t, err)
	assert.False(t, res.Suspended)

	list, err := r.ListSuspends(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sess", list[0].Value)
}

func TestRegistry_Unsuspend(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(Config{})

	_, err := r.Suspend(ctx, domain.SuspendIdentity, "5", "x", 0)
	require.NoError(t, err)

	ok, err := r.Unsuspend(ctx, domain.SuspendIdentity, "5")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Unsuspend(ctx, domain.SuspendIdentity, "5")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Suspend(ctx, "bogus", "5", "x", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = r.Suspend(ctx, domain.SuspendDevice, "a", "", 0)
	require.NoError(t, err)
	n, err := r.ClearSuspends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistry_RecordFailure(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(Config{
		AbuseBanEnabled:   true,
		MaxFailedAttempts: 3,
		FailureWindow:     10 * time.Minute,
		StaticWhitelist:   domain.Whitelist{NetworkAddresses: []string{"127.0.0.1"}},
	})

	for i := 0; i < 2; i++ {
		banID, err := r.RecordFailure(ctx, "6.6.6.6")
		require.NoError(t, err)
		assert.Empty(t, banID)
	}
	banID, err := r.RecordFailure(ctx, "6.6.6.6")
	require.NoError(t, err)
	assert.NotEmpty(t, banID)

	bans, err := r.ListBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, domain.BanSourceAuto, bans[0].Source)

	for i := 0; i < 5; i++ {
		banID, err := r.RecordFailure(ctx, "127.0.0.1")
		require.NoError(t, err)
		assert.Empty(t, banID)
	}
}

func TestRegistry_MalformedRecord(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryStore()
	r := New(store, Config{})

	require.NoError(t, store.HSet(ctx, repository.KeyBans, "hw", []byte("{not json")))

	_, err := r.IsBlocked(ctx, "hw", "", "")
	assert.True(t, errors.Is(err, repository.ErrMalformedRecord))
}

func TestRegistry_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	r := New(repository.NewRedisStore(client), Config{})

	mr.Close()

	_, err := r.IsBlocked(ctx, "hw", "1.1.1.1", "1")
	assert.True(t, repository.IsUnavailable(err))
	assert.False(t, r.IsWhitelisted(ctx, "hw", "1", "1.1.1.1"))
}
