package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/quillpress/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:       http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeForbidden:          http.StatusForbidden,
		CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
		CodeRateLimited:        http.StatusTooManyRequests,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeDatabase:           http.StatusServiceUnavailable,
		CodeConfigInvalid:      http.StatusInternalServerError,
		"SOMETHING_ELSE":       http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestRespondWithRateLimitedError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ratelimit/login", nil)

	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithEnvelope(w, r, NewRateLimitedError("login", 300))
	}))
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-123", body.Error.RequestID)
	assert.Equal(t, "login", body.Error.Details["scope"])
	assert.EqualValues(t, 300, body.Error.Details["retry_after_seconds"])
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	envelope := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, envelope.Code)
	assert.Equal(t, "boom", envelope.Context["wrapped_error"])

	wrapped := WrapDatabaseError(context.Background(), stderrors.New("locked"), "store unavailable")
	assert.Equal(t, CodeDatabase, wrapped.Code)
	assert.NotEmpty(t, wrapped.CorrelationID)
}

func TestConstructorSeverities(t *testing.T) {
	assert.EqualValues(t, gferrors.SeverityHigh, NewInternalError("x").Severity)
	assert.EqualValues(t, gferrors.SeverityHigh, WrapDatabaseError(context.Background(), nil, "x").Severity)
	assert.EqualValues(t, gferrors.SeverityMedium, NewNotFoundError("x").Severity)
}

func TestEnsureEnvelopeUnwrapsWrappedEnvelope(t *testing.T) {
	inner := NewInvalidInputError("bad scope")
	outer := fmt.Errorf("evaluate: %w", inner)

	assert.Same(t, inner, EnsureEnvelope(outer))
	assert.EqualValues(t, gferrors.SeverityCritical, EnsureEnvelope(nil).Severity)
}

func TestResponseDetailsPrefersDetails(t *testing.T) {
	envelope := NewRateLimitedError("login", 30)
	envelope, err := envelope.WithContext(map[string]interface{}{"scope": "shadowed", "check": "ready"})
	require.NoError(t, err)

	details := ResponseDetails(envelope)
	assert.Equal(t, "login", details["scope"])
	assert.Equal(t, "ready", details["check"])
}
