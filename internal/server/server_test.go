package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Security.AdminKey = "admin-key-0123456789"
	cfg.Security.SecretKey = "secret-key-0123456789"
	cfg.Security.LoaderKey = cfg.Security.SecretKey
	cfg.Server.Port = 0
	cfg.Server.GRPCPort = 0
	cfg.Monitoring.PrometheusPort = 0
	return cfg
}

func health(t *testing.T, h http.Handler) map[string]interface{} {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNew_InMemoryStore(t *testing.T) {
	srv, err := New(testConfig())
	require.NoError(t, err)

	assert.Equal(t, false, health(t, srv.Handler())["redis"])
	assert.Contains(t, srv.GetStats(), "store_keys")
	assert.NotEmpty(t, srv.GetInstanceID())
}

func TestNew_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()

	srv, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, true, health(t, srv.Handler())["redis"])
	assert.Contains(t, srv.GetStats(), "redis")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("x-admin-key", "admin-key-0123456789")
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	pool := stats["redis"].(map[string]interface{})
	assert.Equal(t, float64(cfg.Redis.PoolSize), pool["poolSize"])
	require.NoError(t, srv.Stop(context.Background()))
}

func TestNew_UnreachableRedisFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.URL = "redis://127.0.0.1:1"
	cfg.Redis.DialTimeout = 100 * time.Millisecond
	cfg.Redis.MaxRetries = -1

	srv, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, false, health(t, srv.Handler())["redis"])
}

func TestAdminStatsThroughServer(t *testing.T) {
	srv, err := New(testConfig())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("x-admin-key", "admin-key-0123456789")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	families, err := srv.Gatherer().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

func TestStartStop(t *testing.T) {
	srv, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, srv.Stop(stopCtx))
	// second stop is harmless
	assert.NoError(t, srv.Stop(stopCtx))
}
