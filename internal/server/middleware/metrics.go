package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/observability"
	"go.uber.org/zap"
)

// HTTP metric names emitted by RequestMetrics.
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDuration   = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
	HTTPRateLimitedTotal  = "http_rate_limited_total"
)

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	wrote   bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.wrote {
		rec.status = code
		rec.wrote = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wrote {
		rec.wrote = true
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

// RouteLabel maps a request onto a bounded label set. The chi route pattern
// wins when the router matched one; otherwise paths are bucketed by prefix.
func RouteLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/":
		return "/"
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/v1/ratelimit/"):
		return "/v1/ratelimit/*"
	case strings.HasPrefix(path, "/admin/"):
		return "/admin/*"
	default:
		return "/unknown"
	}
}

func errorClass(status int) string {
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// RequestMetrics emits per-request HTTP telemetry and a completion log line.
// Rejections with 429 are counted separately so throttled traffic can be
// told apart from other client errors.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tel := observability.TelemetrySystem
		if tel == nil {
			next.ServeHTTP(w, r)
			return
		}

		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		route := RouteLabel(r)
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": route, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": route}

		requestBytes := r.ContentLength
		if requestBytes < 0 {
			requestBytes = 0
		}

		_ = tel.Counter(HTTPRequestsTotal, 1, labels)
		_ = tel.Histogram(HTTPRequestDuration, elapsed, labels)
		_ = tel.Gauge(HTTPRequestSizeBytes, float64(requestBytes), sizeLabels)
		_ = tel.Gauge(HTTPResponseSizeBytes, float64(rec.written), sizeLabels)

		if rec.status >= http.StatusBadRequest {
			_ = tel.Counter(HTTPErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   route,
				"status":     status,
				"error_type": errorClass(rec.status),
			})
		}
		if rec.status == http.StatusTooManyRequests {
			_ = tel.Counter(HTTPRateLimitedTotal, 1, sizeLabels)
		}

		if observability.ServerLogger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.Int64("request_size", requestBytes),
			zap.Int64("response_size", rec.written),
			zap.String("requestID", GetRequestID(r.Context())),
		}
		if remaining := rec.Header().Get(engine.HeaderRemaining); remaining != "" {
			fields = append(fields, zap.String("ratelimit_remaining", remaining))
		}
		observability.ServerLogger.Info("HTTP request completed", fields...)
	})
}
