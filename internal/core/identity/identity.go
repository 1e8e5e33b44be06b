// Package identity derives the throttling key for an inbound request.
package identity

import (
	"context"
	"net/http"
	"strings"
)

// Unknown is used when a request carries neither a user nor a client address.
// All such requests share one bucket.
const Unknown = "ip:unknown"

type userIDContextKey struct{}

// WithUserID records the authenticated user for downstream resolution.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, strings.TrimSpace(userID))
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(userIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// Resolve picks the identifier by precedence: authenticated user, first
// X-Forwarded-For entry, X-Real-IP, then Unknown.
func Resolve(userID string, h http.Header) string {
	if id := strings.TrimSpace(userID); id != "" {
		return "user:" + id
	}

	if h != nil {
		if xff := h.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return "ip:" + ip
			}
		}
		if ip := strings.TrimSpace(h.Get("X-Real-IP")); ip != "" {
			return "ip:" + ip
		}
	}

	return Unknown
}

// FromRequest resolves the identifier for r.
func FromRequest(r *http.Request) string {
	if r == nil {
		return Unknown
	}
	return Resolve(UserIDFromContext(r.Context()), r.Header)
}
