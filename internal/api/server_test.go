package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaecopzm/postcraft-sub000/internal/clock"
	"github.com/jaecopzm/postcraft-sub000/internal/config"
	"github.com/jaecopzm/postcraft-sub000/internal/gate"
	"github.com/jaecopzm/postcraft-sub000/internal/identity"
	"github.com/jaecopzm/postcraft-sub000/internal/logging"
	"github.com/jaecopzm/postcraft-sub000/internal/metrics"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/quota"
	"github.com/jaecopzm/postcraft-sub000/internal/ratelimit"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	clock  *clock.Manual
}

func newTestServer(t *testing.T, apiCfg config.APIConfig) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	cl := clock.NewManual(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	limits := &config.LimitsConfig{
		FailMode: "open",
		Rules: map[string]config.LimitRule{
			"generate": {MaxRequests: 3, Window: time.Minute},
		},
	}
	tiers := &config.QuotaConfig{Tiers: map[string]config.TierConfig{
		"free": {MonthlyCeiling: 5},
		"pro":  {Unlimited: true},
	}}

	limiter := ratelimit.NewLimiter(st, ratelimit.Options{Clock: cl, FailOpen: true})
	ledger := quota.NewLedger(st, tiers, quota.Options{Clock: cl, FailOpen: true})
	g := gate.New(identity.NewResolver(st), ledger, limiter, limits)

	require.NoError(t, apiCfg.Validate())

	srvCfg := config.ServerConfig{Host: "127.0.0.1", HTTPPort: 8421}
	logger := logging.NewLogger(logging.WithLevel(logging.LevelError))
	server := NewServer(srvCfg, apiCfg, g, st, metrics.NewMetrics("postcraft_test"), logger)

	return &testEnv{server: server, store: st, clock: cl}
}

func postAdmit(t *testing.T, env *testEnv, body AdmitRequest, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/admit", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	return w
}

func TestAdmitEndpointAdmits(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	w := postAdmit(t, env, AdmitRequest{Action: "generate", AccountID: "acct-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp AdmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Admitted)
	assert.Equal(t, "admitted", resp.Reason)
	assert.Equal(t, "free", resp.Tier)
	assert.Equal(t, 2, resp.Remaining)
	assert.Equal(t, int64(1), resp.QuotaUsed)
}

func TestAdmitEndpointRateLimits(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	for i := 0; i < 3; i++ {
		w := postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var resp AdmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Admitted)
	assert.Equal(t, "rate_limited", resp.Reason)
	assert.NotZero(t, resp.ResetAt)
}

func TestAdmitEndpointQuotaExceeded(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	for i := 0; i < 5; i++ {
		w := postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		env.clock.Advance(time.Minute)
	}

	w := postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp AdmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "quota_exceeded", resp.Reason)
	assert.Equal(t, int64(5), resp.QuotaUsed)
	assert.Equal(t, int64(5), resp.QuotaCeiling)
}

func TestAdmitEndpointDefaultsAction(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	w := postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdmitEndpointBadBody(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/admit", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestServer(t, config.APIConfig{
		Auth: config.AuthConfig{Enabled: true, APIKeys: []string{"secret-key"}},
	})

	w := postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthNotRequiredForHealthAndMetrics(t *testing.T) {
	env := newTestServer(t, config.APIConfig{
		Auth: config.AuthConfig{Enabled: true, APIKeys: []string{"secret-key"}},
	})

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
	postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/usage/acct-1", nil)
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp UsageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Used)
	assert.Equal(t, "2026-03", resp.Period)
	assert.Equal(t, "free", resp.Tier)
	assert.Equal(t, int64(5), resp.Ceiling)
	assert.False(t, resp.Unlimited)
}

func TestAccountEndpoints(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	body := bytes.NewReader([]byte(`{"tier":"pro"}`))
	req := httptest.NewRequest(http.MethodPut, "/v1/accounts/acct-1", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-1", nil)
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var acc models.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	assert.Equal(t, models.TierPro, acc.Tier)

	req = httptest.NewRequest(http.MethodGet, "/v1/accounts/missing", nil)
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body = bytes.NewReader([]byte(`{"tier":"platinum"}`))
	req = httptest.NewRequest(http.MethodPut, "/v1/accounts/acct-1", body)
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInspectLimitEndpoint(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/limits/acct-1", nil)
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["in_window"])
}

func TestHealthReportsDegradedStore(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "memory", resp["store"])
}

func TestFailOpenEndToEnd(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	// Two failures: one for the quota reservation, one would hit the window.
	env.store.FailNext(2)

	w := postAdmit(t, env, AdmitRequest{AccountID: "acct-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp AdmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Admitted)
	assert.Equal(t, 1, resp.Remaining)
}

func TestGuardLimitsAbusiveClients(t *testing.T) {
	env := newTestServer(t, config.APIConfig{
		Guard: config.GuardConfig{RequestsPerMinute: 60, Burst: 2},
	})

	statuses := make(map[int]int)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		statuses[w.Code]++
	}

	assert.Greater(t, statuses[http.StatusTooManyRequests], 0, "guard should reject beyond burst")
}

func TestShutdownClosesStore(t *testing.T) {
	env := newTestServer(t, config.APIConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))
}
