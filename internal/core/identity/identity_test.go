package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Run("UserWins", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Forwarded-For", "1.2.3.4")
		require.Equal(t, "user:42", Resolve(" 42 ", h))
	})

	t.Run("FirstForwardedEntryOnly", func(t *testing.T) {
		h := http.Header{}
		h.Set("x-forwarded-for", "1.2.3.4, 5.6.7.8")
		h.Set("X-Real-IP", "9.9.9.9")
		require.Equal(t, "ip:1.2.3.4", Resolve("", h))
	})

	t.Run("EmptyForwardedEntryFallsThrough", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Forwarded-For", " , 5.6.7.8")
		h.Set("X-Real-IP", "9.9.9.9")
		require.Equal(t, "ip:9.9.9.9", Resolve("", h))
	})

	t.Run("RealIP", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Real-IP", " 9.9.9.9 ")
		require.Equal(t, "ip:9.9.9.9", Resolve("", h))
	})

	t.Run("Unknown", func(t *testing.T) {
		require.Equal(t, Unknown, Resolve("", http.Header{}))
		require.Equal(t, Unknown, Resolve("  ", nil))
	})
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	require.Equal(t, "ip:10.0.0.1", FromRequest(req))

	req = req.WithContext(WithUserID(req.Context(), "alice"))
	require.Equal(t, "user:alice", FromRequest(req))

	require.Equal(t, Unknown, FromRequest(nil))
	require.Equal(t, "", UserIDFromContext(context.Background()))
}
