package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/core/identity"
	apperrors "github.com/quillpress/quillpress/internal/errors"
)

const maxEvaluateBody = 4 << 10

// EvaluateRequest is the optional body of POST /v1/ratelimit/{scope}.
// Identifier and UserID let a trusted upstream name the caller directly.
// They are honoured only with the RateLimitAPI's trusted bearer token;
// otherwise the caller is resolved from the request itself.
type EvaluateRequest struct {
	Identifier string `json:"identifier,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// PolicyResponse describes one configured scope.
type PolicyResponse struct {
	Scope         string `json:"scope"`
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"window_seconds"`
	BlockSeconds  int    `json:"block_seconds"`
}

// RateLimitAPI serves the rate limit decision endpoints.
type RateLimitAPI struct {
	Limiter  engine.Evaluator
	Policies *engine.Policies

	// TrustedToken authorizes callers to name the identity in the request
	// body. Empty rejects body identities outright.
	TrustedToken string
}

// Evaluate counts one request against the scope in the URL.
func (a *RateLimitAPI) Evaluate(w http.ResponseWriter, r *http.Request) {
	scope := strings.TrimSpace(chi.URLParam(r, "scope"))
	policy, ok := a.Policies.Get(scope)
	if !ok {
		apperrors.RespondWithError(w, r, apperrors.NewNotFoundError("Unknown rate limit scope: "+scope))
		return
	}

	var body EvaluateRequest
	if err := decodeOptionalJSON(r, &body); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Request body must be a JSON object"))
		return
	}

	claimed := strings.TrimSpace(body.Identifier) != "" || strings.TrimSpace(body.UserID) != ""
	if claimed && !a.trusted(r) {
		apperrors.RespondWithError(w, r, apperrors.NewForbiddenError("identifier and user_id require the trusted upstream token"))
		return
	}

	identifier := strings.TrimSpace(body.Identifier)
	if identifier == "" {
		userID := strings.TrimSpace(body.UserID)
		if userID == "" {
			userID = identity.UserIDFromContext(r.Context())
		}
		identifier = identity.Resolve(userID, r.Header)
	}

	result, err := a.Limiter.Evaluate(r.Context(), policy, identifier)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapConfigInvalid(r.Context(), err, "Rate limit policy is invalid"))
		return
	}

	engine.EncodeHeaders(w.Header(), result)
	if result.Blocked {
		apperrors.RespondWithError(w, r, apperrors.NewRateLimitedError(policy.Scope, result.RetryAfterSeconds))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *RateLimitAPI) trusted(r *http.Request) bool {
	if a.TrustedToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.TrustedToken)) == 1
}

// ListPolicies returns every configured scope.
func (a *RateLimitAPI) ListPolicies(w http.ResponseWriter, r *http.Request) {
	all := a.Policies.All()
	out := make([]PolicyResponse, 0, len(all))
	for _, p := range all {
		out = append(out, NewPolicyResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// NewPolicyResponse flattens durations to whole seconds.
func NewPolicyResponse(p core.RateLimitPolicy) PolicyResponse {
	return PolicyResponse{
		Scope:         p.Scope,
		Limit:         p.Limit,
		WindowSeconds: int(p.Window.Seconds()),
		BlockSeconds:  int(p.Block.Seconds()),
	}
}

func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEvaluateBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
