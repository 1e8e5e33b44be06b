package middleware

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/core/identity"
)

// RateLimit guards the wrapped routes with policy. Each request is counted
// against the caller resolved from the request; blocked callers get 429 and
// never reach next. Rate limit headers are set on every response.
func RateLimit(limiter engine.Evaluator, policy core.RateLimitPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := limiter.Evaluate(r.Context(), policy, identity.FromRequest(r))
			if err != nil {
				envelope := errors.NewErrorEnvelope("CONFIG_INVALID", "Rate limit policy is invalid").
					WithCorrelationID(GetRequestID(r.Context()))
				envelope, _ = envelope.WithContext(map[string]interface{}{
					"scope": policy.Scope,
					"error": err.Error(),
				})
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
				return
			}

			engine.EncodeHeaders(w.Header(), result)
			if result.Blocked {
				envelope := errors.NewErrorEnvelope("RATE_LIMITED", "Too many requests; try again later").
					WithCorrelationID(GetRequestID(r.Context()))
				envelope, _ = envelope.WithContext(map[string]interface{}{
					"scope":               policy.Scope,
					"retry_after_seconds": result.RetryAfterSeconds,
				})
				writeErrorResponse(w, envelope, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
