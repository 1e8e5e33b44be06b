package engine

import (
	"net/http"
	"strconv"

	"github.com/quillpress/quillpress/internal/core"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// EncodeHeaders writes the verdict to h. Retry-After is only set when the
// caller is blocked, and is removed otherwise.
func EncodeHeaders(h http.Header, result core.RateLimitResult) {
	if h == nil {
		return
	}

	remaining := max(result.Limit-result.CurrentCount, 0)
	if result.FailOpen {
		remaining = result.Limit
	}

	h.Set(HeaderLimit, strconv.Itoa(result.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(remaining))
	h.Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))

	if result.Blocked {
		h.Set(HeaderRetryAfter, strconv.Itoa(result.RetryAfterSeconds))
		return
	}
	h.Del(HeaderRetryAfter)
}
