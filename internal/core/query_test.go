package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitQueryValidate(t *testing.T) {
	assert.Error(t, RateLimitQuery{}.Validate())
	assert.Error(t, RateLimitQuery{Scope: "  "}.Validate())
	assert.NoError(t, RateLimitQuery{All: true}.Validate())
	assert.NoError(t, RateLimitQuery{Identifier: "user:42"}.Validate())
}

func TestRateLimitQueryMatches(t *testing.T) {
	state := &RateLimitState{Scope: "login", Identifier: "ip:10.0.0.1"}

	assert.True(t, RateLimitQuery{All: true}.Matches(state))
	assert.True(t, RateLimitQuery{Scope: "login"}.Matches(state))
	assert.True(t, RateLimitQuery{Scope: "login", Prefix: "ip:10."}.Matches(state))
	assert.False(t, RateLimitQuery{Scope: "signup"}.Matches(state))
	assert.False(t, RateLimitQuery{Identifier: "ip:10.0.0.2"}.Matches(state))
	assert.False(t, RateLimitQuery{}.Matches(state))
	assert.False(t, RateLimitQuery{All: true}.Matches(nil))
}
