package core

import (
	"errors"
	"strings"
)

// RateLimitQuery selects stored rows for operator commands. Non-empty
// fields are combined with AND; All selects every row.
type RateLimitQuery struct {
	All        bool
	Scope      string
	Identifier string
	Prefix     string
}

func (q RateLimitQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Scope) != "" {
		return nil
	}
	if strings.TrimSpace(q.Identifier) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --scope, --identifier, or --prefix")
}

// Matches reports whether state is selected by q.
func (q RateLimitQuery) Matches(state *RateLimitState) bool {
	if state == nil {
		return false
	}
	if q.All {
		return true
	}
	if scope := strings.TrimSpace(q.Scope); scope != "" && state.Scope != scope {
		return false
	}
	if identifier := strings.TrimSpace(q.Identifier); identifier != "" && state.Identifier != identifier {
		return false
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" && !strings.HasPrefix(state.Identifier, prefix) {
		return false
	}
	return q.Validate() == nil
}
