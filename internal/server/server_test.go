package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/core/memstore"
	apperrors "github.com/quillpress/quillpress/internal/errors"
	"github.com/quillpress/quillpress/internal/server/handlers"
)

func testAPI(t *testing.T) *handlers.RateLimitAPI {
	t.Helper()

	policies, err := engine.NewPolicies(nil)
	require.NoError(t, err)
	return &handlers.RateLimitAPI{
		Limiter:  &engine.RateLimiter{Store: memstore.New(), Dispatch: func(fn func()) { fn() }},
		Policies: policies,
	}
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerErrorEnvelopes(t *testing.T) {
	t.Setenv(AdminTokenEnv, "")
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}})

	cases := []struct {
		method, path string
		status       int
		code         string
	}{
		{http.MethodGet, "/does-not-exist", http.StatusNotFound, apperrors.CodeNotFound},
		{http.MethodDelete, "/version", http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := serve(srv, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.path)

		var body apperrors.HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, tc.code, body.Error.Code)
	}
}

func TestServerRegistersRateLimitRoutes(t *testing.T) {
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080}, API: testAPI(t)})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/v1/ratelimit/policies", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/ratelimit/"+engine.ScopeLogin, nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec = serve(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(engine.HeaderLimit))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, 8080, srv.Port())
}

func TestServerWithoutAPIOmitsRateLimitRoutes(t *testing.T) {
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}})

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/v1/ratelimit/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHealthRoutes(t *testing.T) {
	handlers.InitHealthManager("test")
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}})

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup"} {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServerAdminEndpointRequiresToken(t *testing.T) {
	t.Setenv(AdminTokenEnv, "")

	disabled := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}})
	rec := serve(disabled, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	enabled := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}, AdminToken: "s3cret"})
	rec = serve(enabled, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestServerAdminEndpointIsRateLimited(t *testing.T) {
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}, AdminToken: "s3cret", API: testAPI(t)})

	signal := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/signal", nil)
		req.Header.Set("Authorization", "Bearer guess")
		req.Header.Set("X-Forwarded-For", "198.51.100.23")
		return serve(srv, req)
	}

	limit := engine.AdminSignalPolicy.Limit
	for i := 0; i < limit; i++ {
		rec := signal()
		assert.NotEqual(t, http.StatusOK, rec.Code)
		assert.Equal(t, fmt.Sprint(limit), rec.Header().Get(engine.HeaderLimit))
	}

	rec := signal()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(engine.HeaderRetryAfter))

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeRateLimited, body.Error.Code)
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := New(Options{})
	assert.NoError(t, srv.Shutdown(t.Context()))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 5*time.Second, orDefault(0, 5*time.Second))
	assert.Equal(t, time.Second, orDefault(time.Second, 5*time.Second))
}
