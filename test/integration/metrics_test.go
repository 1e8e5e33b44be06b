package integration

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/observability"
	"github.com/quillpress/quillpress/internal/server"
	"github.com/quillpress/quillpress/internal/server/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanupMetrics stops the exporter after the test so the next one can bind.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { _ = observability.ShutdownMetrics() })
}

// isPermissionError reports whether a bind failed because the sandbox forbids
// sockets rather than because something is wrong.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip starts an exporter on a random port under the "test"
// namespace, skipping when binds are not permitted.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

// newTestServer serves the full router on 127.0.0.1. setup may register extra
// routes on the underlying mux before the listener starts.
func newTestServer(t *testing.T, api *handlers.RateLimitAPI, setup func(*chi.Mux)) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := server.New(server.Options{Server: config.ServerConfig{Host: "127.0.0.1"}, API: api})
	if setup != nil {
		if mux, ok := srv.Handler().(*chi.Mux); ok {
			setup(mux)
		}
	}

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func fetchMetrics(t *testing.T, client *http.Client, baseURL string) (string, *http.Response) {
	t.Helper()

	resp, err := client.Get(baseURL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	return string(body), resp
}

func TestMetricsEndpoint_MixedTraffic(t *testing.T) {
	observability.InitServerLogger("test", observability.ServerLogOptions{Level: "info"})
	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	ts, client := newTestServer(t, newRateLimitAPI(t), func(mux *chi.Mux) {
		mux.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(20 * time.Millisecond)
		})
	})

	// One hot caller exhausts its login allowance while others stay under it.
	const requests = 40
	jobs := make(chan int, requests)
	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)

	started := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				var resp *http.Response
				var err error
				switch n % 4 {
				case 0, 1:
					resp, err = postAsUpstream(client, ts.URL+"/v1/ratelimit/"+engine.ScopeLogin,
						`{"identifier":"ip:203.0.113.9"}`)
				case 2:
					resp, err = client.Get(ts.URL + "/slow")
				default:
					resp, err = client.Get(ts.URL + "/health/live")
				}
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(started)

	content, resp := fetchMetrics(t, client, ts.URL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	for _, name := range []string{
		"test_http_requests_total",
		"test_http_request_duration_ms",
		"test_http_rate_limited_total",
		"test_ratelimit_decisions_total",
	} {
		assert.Contains(t, content, name)
	}
	assert.Less(t, elapsed, 5*time.Second)
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitServerLogger("test", observability.ServerLogOptions{Level: "info"})
	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	ts, client := newTestServer(t, newRateLimitAPI(t), nil)

	resp, err := client.Get(ts.URL + "/v1/ratelimit/policies")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	content, resp := fetchMetrics(t, client, ts.URL)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain; version=0.0.4"),
		"unexpected content type %q", resp.Header.Get("Content-Type"))

	samples := 0
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		require.GreaterOrEqual(t, len(strings.Fields(line)), 2, "malformed sample line %q", line)
		samples++
	}
	assert.Positive(t, samples)
}

func TestMetricsEndpoint_DisabledReturnsUnavailable(t *testing.T) {
	observability.InitServerLogger("test", observability.ServerLogOptions{Level: "info"})

	previousExporter, previousTelemetry := observability.PrometheusExporter, observability.TelemetrySystem
	observability.PrometheusExporter, observability.TelemetrySystem = nil, nil
	t.Cleanup(func() {
		observability.PrometheusExporter, observability.TelemetrySystem = previousExporter, previousTelemetry
	})
	t.Setenv("QUILLPRESS_METRICS_ENABLED", "false")
	handlers.InitHealthManager("test")

	ts, client := newTestServer(t, newRateLimitAPI(t), nil)

	resp, err := postAsUpstream(client, ts.URL+"/v1/ratelimit/"+engine.ScopeLogin,
		`{"identifier":"ip:203.0.113.10"}`)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, resp = fetchMetrics(t, client, ts.URL)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
