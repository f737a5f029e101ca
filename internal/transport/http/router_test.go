package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/audit"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/captcha"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/delivery"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/security"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminKey = "admin-key-0123456789"
	runtimeUA    = "Roblox/WinInet"
	clientAddr   = "203.0.113.7"
)

type staticScript string

func (s staticScript) Script(ctx context.Context) (string, error) {
	return string(s), nil
}

type testAPI struct {
	server   *httptest.Server
	store    *repository.InMemoryStore
	registry *registry.Registry
}

func newTestAPI(t *testing.T, limit int) *testAPI {
	t.Helper()

	store := repository.NewInMemoryStore()
	reg := registry.New(store, registry.Config{})
	auth := usecase.NewAuthUsecase(store, reg, captcha.NewEngineWithSeed(1), nil, nil, usecase.AuthConfig{})
	sessions := usecase.NewSessionUsecase(store, reg, nil, nil)
	packager := delivery.NewPackager(delivery.Config{SecretKey: "secret-key-0123456789", ChunkCount: 2})

	h := NewHandler(Dependencies{
		Auth:       auth,
		Delivery:   usecase.NewDeliveryUsecase(auth, sessions, staticScript("print('payload')"), packager, reg, nil, nil, usecase.DeliveryConfig{}),
		Sessions:   sessions,
		Access:     usecase.NewAccessUsecase(reg, sessions, nil, nil, false),
		Registry:   reg,
		Recorder:   audit.NewRecorder(store, reg, 100),
		Classifier: security.NewClassifier([]string{"uptimerobot"}),
		Limiter:    security.NewRateLimiter(store, limit, time.Minute, limit),
	}, Config{AdminKey: testAdminKey, PublicURL: "https://shield.example.com/"})

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, store: store, registry: reg}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", runtimeUA)
	req.Header.Set("X-Forwarded-For", clientAddr)
	req.Header.Set("x-hwid", "hw-1")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	"Accept":          "text/html,application/xhtml+xml",
	"Sec-Fetch-Mode":  "navigate",
	"Accept-Language": "en-US",
	"x-hwid":          "",
}

var admin = map[string]string{"x-admin-key": testAdminKey}

func (a *testAPI) issue(t *testing.T) (string, domain.Challenge) {
	t.Helper()
	resp, data := a.do(t, http.MethodPost, "/api/auth/challenge", map[string]interface{}{
		"userId": 42, "hwid": "hw-1", "placeId": 777,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	body := decode(t, data)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 120, body["expiresIn"])
	id := body["challengeId"].(string)

	raw, err := a.store.Get(context.Background(), repository.ChallengeKey(id))
	require.NoError(t, err)
	var ch domain.Challenge
	require.NoError(t, json.Unmarshal(raw, &ch))
	return id, ch
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, 100)
	resp, data := api.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"status": "ok", "redis": false}, decode(t, data))
}

func TestChallenge_BlocksNonRuntimeClients(t *testing.T) {
	api := newTestAPI(t, 100)

	resp, data := api.do(t, http.MethodPost, "/api/auth/challenge", map[string]interface{}{"userId": 1, "placeId": 2}, browserHeaders)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Access denied", decode(t, data)["error"])

	resp, _ = api.do(t, http.MethodPost, "/api/auth/challenge", map[string]interface{}{"userId": 1, "placeId": 2}, map[string]string{
		"User-Agent": "python-requests/2.31", "x-hwid": "",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChallenge_Validation(t *testing.T) {
	api := newTestAPI(t, 100)

	resp, data := api.do(t, http.MethodPost, "/api/auth/challenge", map[string]interface{}{"userId": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing fields", decode(t, data)["error"])

	resp, data = api.do(t, http.MethodPost, "/api/auth/challenge", map[string]interface{}{"userId": "abc", "placeId": 2}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid format", decode(t, data)["error"])
}

func TestChallenge_BannedIdentityGetsGenericDenial(t *testing.T) {
	api := newTestAPI(t, 100)
	_, err := api.registry.Ban(context.Background(), domain.BanRequest{IdentityID: "42", Reason: "exploiting"})
	require.NoError(t, err)

	resp, data := api.do(t, http.MethodPost, "/api/auth/challenge", map[string]interface{}{"userId": 42, "placeId": 777}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Access denied", decode(t, data)["error"])
	assert.NotContains(t, string(data), "exploiting")
}

func TestVerifyFlowAndKillSwitch(t *testing.T) {
	api := newTestAPI(t, 100)
	id, ch := api.issue(t)

	resp, data := api.do(t, http.MethodPost, "/api/auth/verify", map[string]interface{}{
		"challengeId": id, "solution": ch.Answer + 1, "timestamp": 1700000000,
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Wrong solution", decode(t, data)["error"])

	resp, data = api.do(t, http.MethodPost, "/api/auth/verify", map[string]interface{}{
		"challengeId": id, "solution": ch.Answer, "timestamp": 1700000000,
	}, map[string]string{"X-Forwarded-For": "198.51.100.1"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Challenge expired", decode(t, data)["error"])

	resp, data = api.do(t, http.MethodPost, "/api/auth/verify", map[string]interface{}{
		"challengeId": id, "solution": ch.Answer, "timestamp": 1700000000,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	body := decode(t, data)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "encrypted", body["mode"])
	assert.Len(t, body["key"], 32)
	sessionID := body["sessionId"].(string)

	resp, _ = api.do(t, http.MethodPost, "/api/auth/verify", map[string]interface{}{
		"challengeId": id, "solution": ch.Answer, "timestamp": 1700000000,
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = api.do(t, http.MethodPost, "/api/heartbeat", map[string]interface{}{"sessionId": sessionID}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CONTINUE", decode(t, data)["action"])

	resp, data = api.do(t, http.MethodPost, "/api/admin/kill-session", map[string]interface{}{"sessionId": sessionID, "reason": "bye"}, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = api.do(t, http.MethodPost, "/api/heartbeat", map[string]interface{}{"sessionId": sessionID}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode(t, data)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "TERMINATE", body["action"])
	assert.Equal(t, "bye", body["reason"])

	resp, _ = api.do(t, http.MethodPost, "/api/admin/kill-session", map[string]interface{}{"sessionId": "missing"}, admin)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerify_MissingFields(t *testing.T) {
	api := newTestAPI(t, 100)
	resp, data := api.do(t, http.MethodPost, "/api/auth/verify", map[string]interface{}{"challengeId": "x", "timestamp": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing fields", decode(t, data)["error"])
}

func TestAdminAuth(t *testing.T) {
	api := newTestAPI(t, 100)

	resp, data := api.do(t, http.MethodGet, "/api/admin/stats", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Unauthorized", decode(t, data)["error"])

	resp, _ = api.do(t, http.MethodGet, "/api/admin/stats", nil, map[string]string{"x-admin-key": "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = api.do(t, http.MethodGet, "/api/admin/stats?key="+testAdminKey, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, data)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "stats")

	misconfigured := NewHandler(Dependencies{}, Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("x-admin-key", "anything")
	misconfigured.adminAuth(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBanGate(t *testing.T) {
	api := newTestAPI(t, 100)

	resp, data := api.do(t, http.MethodPost, "/api/admin/bans", map[string]interface{}{"ip": clientAddr, "reason": "abuse"}, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Len(t, decode(t, data)["banId"], 16)

	resp, data = api.do(t, http.MethodPost, "/api/auth/challenge", map[string]interface{}{"userId": 42, "placeId": 777}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, string(data), "Invalid License")

	resp, data = api.do(t, http.MethodPost, "/api/auth/challenge", nil, browserHeaders)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(data), "Access Denied")

	// the loader route and health stay reachable
	resp, _ = api.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = api.do(t, http.MethodGet, "/api/admin/logs", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), domain.ActionBlockedIP)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, 2)

	for i := 0; i < 2; i++ {
		resp, _ := api.do(t, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := api.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/health", nil, map[string]string{"X-Forwarded-For": "192.0.2.99"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoader(t *testing.T) {
	api := newTestAPI(t, 100)

	resp, data := api.do(t, http.MethodGet, "/loader", nil, browserHeaders)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(data), "https://shield.example.com/loader")

	resp, data = api.do(t, http.MethodGet, "/l", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `local S="https://shield.example.com"`)

	resp, data = api.do(t, http.MethodGet, "/api/loader.lua", nil, map[string]string{"User-Agent": "curl/8.0", "x-hwid": ""})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "Invalid License")
}

func TestShimBanAndSuspicious(t *testing.T) {
	api := newTestAPI(t, 100)

	resp, data := api.do(t, http.MethodPost, "/api/ban", map[string]interface{}{"reason": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing id", decode(t, data)["error"])

	resp, data = api.do(t, http.MethodPost, "/api/ban", map[string]interface{}{"hwid": "hw-9", "playerId": 99}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	banID := decode(t, data)["banId"]
	assert.NotEmpty(t, banID)

	res, err := api.registry.IsBlocked(context.Background(), "", "", "99")
	require.NoError(t, err)
	assert.True(t, res.Blocked)

	resp, data = api.do(t, http.MethodPost, "/api/webhook/suspicious", map[string]interface{}{"userId": 1, "tool": "Dex"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, data)["success"])

	resp, data = api.do(t, http.MethodDelete, "/api/admin/bans/"+banID.(string), nil, admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, data)["success"])
}

func TestAdminWhitelistAndSuspend(t *testing.T) {
	api := newTestAPI(t, 100)

	resp, _ := api.do(t, http.MethodPost, "/api/admin/whitelist", map[string]interface{}{"type": "bogus", "value": "1"}, admin)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, "/api/admin/whitelist", map[string]interface{}{"type": "userId", "value": 42}, admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := api.do(t, http.MethodGet, "/api/admin/whitelist", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wl := decode(t, data)["whitelist"].(map[string]interface{})
	assert.Equal(t, []interface{}{"42"}, wl["userIds"])

	for _, duration := range []interface{}{1e12, "99999999999999999999", "soon"} {
		resp, _ = api.do(t, http.MethodPost, "/api/admin/suspend", map[string]interface{}{"type": "hwid", "value": "hw-2", "duration": duration}, admin)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "duration %v", duration)
	}

	resp, _ = api.do(t, http.MethodPost, "/api/admin/suspend", map[string]interface{}{"type": "hwid", "value": "hw-2", "duration": 60}, admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = api.do(t, http.MethodGet, "/api/admin/suspended", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode(t, data)["suspended"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "Suspended by admin", list[0].(map[string]interface{})["reason"])

	resp, _ = api.do(t, http.MethodPost, "/api/admin/unsuspend", map[string]interface{}{"type": "hwid", "value": "hw-2"}, admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientAddress(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientAddress(r))

	r.Header.Set("X-Forwarded-For", " 10.0.0.3 , 10.0.0.4")
	assert.Equal(t, "10.0.0.3", clientAddress(r))
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 123456789012, "b": " 30.0 "}`), &v))
	assert.Equal(t, "123456789012", v.A.String())
	n, ok := v.B.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(30), n)
}
