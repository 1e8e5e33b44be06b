package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/quillpress/quillpress/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	previous := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = previous })

	return collector
}

func serveWith(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRequestMetricsEmitsCoreSeries(t *testing.T) {
	collector := setupTelemetry(t)

	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := serveWith(h, http.MethodGet, "/version")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Positive(t, collector.CountMetricsByName(HTTPRequestsTotal))
	assert.Positive(t, collector.CountMetricsByName(HTTPRequestDuration))
	assert.Positive(t, collector.CountMetricsByName(HTTPRequestSizeBytes))
	assert.Positive(t, collector.CountMetricsByName(HTTPResponseSizeBytes))
	assert.Zero(t, collector.CountMetricsByName(HTTPErrorsTotal))
}

func TestRequestMetricsPassThroughWithoutTelemetry(t *testing.T) {
	previous := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = previous })

	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	assert.Equal(t, http.StatusAccepted, serveWith(h, http.MethodGet, "/").Code)
}

func TestRequestMetricsCountsErrorsAndRejections(t *testing.T) {
	collector := setupTelemetry(t)

	statuses := []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusNotFound}
	for _, status := range statuses {
		status := status
		h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		serveWith(h, http.MethodPost, "/v1/ratelimit/login")
	}

	assert.Positive(t, collector.CountMetricsByName(HTTPRequestsTotal))
	assert.Positive(t, collector.CountMetricsByName(HTTPErrorsTotal))
	assert.Positive(t, collector.CountMetricsByName(HTTPRateLimitedTotal))
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	_, err := rec.Write([]byte("body"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rec.status)
	assert.EqualValues(t, 4, rec.written)
}

func TestRouteLabelFallbacks(t *testing.T) {
	cases := map[string]string{
		"/":                      "/",
		"/health":                "/health/*",
		"/health/ready":          "/health/*",
		"/version":               "/version",
		"/metrics":               "/metrics",
		"/v1/ratelimit/login":    "/v1/ratelimit/*",
		"/v1/ratelimit/policies": "/v1/ratelimit/*",
		"/admin/signals":         "/admin/*",
		"/wp-login.php":          "/unknown",
		"/users/42/posts/7/edit": "/unknown",
	}

	for path, want := range cases {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, want, RouteLabel(httptest.NewRequest(http.MethodGet, path, nil)))
		})
	}
}

func TestRouteLabelPrefersChiPattern(t *testing.T) {
	var got string
	router := chi.NewRouter()
	router.Post("/v1/ratelimit/{scope}", func(w http.ResponseWriter, r *http.Request) {
		got = RouteLabel(r)
	})

	serveWith(router, http.MethodPost, "/v1/ratelimit/password_reset")

	assert.Equal(t, "/v1/ratelimit/{scope}", got)
}

func TestRequestMetricsMeasuresDuration(t *testing.T) {
	collector := setupTelemetry(t)

	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))

	started := time.Now()
	serveWith(h, http.MethodGet, "/health")

	assert.GreaterOrEqual(t, time.Since(started), 5*time.Millisecond)
	assert.Positive(t, collector.CountMetricsByName(HTTPRequestDuration))
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", seen)
	assert.Equal(t, "req-abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRequestIDReplacesMalformedInbound(t *testing.T) {
	inbound := []string{
		"bad id\nforged=1",
		strings.Repeat("x", maxRequestIDLength+1),
	}

	for _, value := range inbound {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, value)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.NotEqual(t, value, seen)
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetRequestID(req.Context()))
}
