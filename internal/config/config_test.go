package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setKeys(t *testing.T) {
	t.Setenv("ADMIN_KEY", "admin-key-0123456789")
	t.Setenv("SECRET_KEY", "secret-key-0123456789")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setKeys(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Challenge.TTL)
	assert.Equal(t, 3, cfg.Delivery.ChunkCount)
	assert.True(t, cfg.Delivery.ChunkDelivery)
	assert.True(t, cfg.Delivery.EncodeLoader)
	assert.True(t, cfg.Shim.AntiInspection)
	assert.False(t, cfg.Shim.AutoBan)
	assert.False(t, cfg.Security.RequireDeviceID)
	assert.Equal(t, 45, cfg.Shim.HeartbeatInterval)
	assert.Equal(t, "secret-key-0123456789", cfg.Security.LoaderKey)
}

func TestLoadConfig_FlagPolarity(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
		get   func(*Config) bool
		want  bool
	}{
		{"encode loader off only by false", "ENCODE_LOADER", "false", func(c *Config) bool { return c.Delivery.EncodeLoader }, false},
		{"encode loader stays on for garbage", "ENCODE_LOADER", "no", func(c *Config) bool { return c.Delivery.EncodeLoader }, true},
		{"chunk delivery off", "CHUNK_DELIVERY", "false", func(c *Config) bool { return c.Delivery.ChunkDelivery }, false},
		{"anti spy on for empty", "ANTI_SPY_ENABLED", "", func(c *Config) bool { return c.Shim.AntiInspection }, true},
		{"auto ban on only by true", "AUTO_BAN_SPYTOOLS", "true", func(c *Config) bool { return c.Shim.AutoBan }, true},
		{"auto ban off for yes", "AUTO_BAN_SPYTOOLS", "yes", func(c *Config) bool { return c.Shim.AutoBan }, false},
		{"require hwid", "REQUIRE_HWID", "true", func(c *Config) bool { return c.Security.RequireDeviceID }, true},
		{"already obfuscated", "SCRIPT_ALREADY_OBFUSCATED", "TRUE", func(c *Config) bool { return c.Delivery.AlreadyObfuscated }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setKeys(t)
			t.Setenv(tt.env, tt.value)

			cfg, err := LoadConfig("")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.get(cfg))
		})
	}
}

func TestLoadConfig_FileAndLists(t *testing.T) {
	setKeys(t)
	t.Setenv("WHITELIST_USER_IDS", " 1, 2 ,,3")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  port: 8080
delivery:
  chunk_count: 5
access:
  owner_user_ids: ["42"]
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Delivery.ChunkCount)
	assert.Equal(t, []string{"42"}, cfg.Access.OwnerIdentityIDs)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.Access.WhitelistIdentityIDs)
	// untouched keys keep defaults
	assert.True(t, cfg.Delivery.ChunkDelivery)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Run("short admin key", func(t *testing.T) {
		t.Setenv("ADMIN_KEY", "short")
		t.Setenv("SECRET_KEY", "secret-key-0123456789")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("chunk count out of range", func(t *testing.T) {
		setKeys(t)
		t.Setenv("CHUNK_COUNT", "0")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})
}
