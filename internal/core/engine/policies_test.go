package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillpress/quillpress/internal/core"
)

func TestNewPoliciesDefaults(t *testing.T) {
	policies, err := NewPolicies(nil)
	require.NoError(t, err)

	login, ok := policies.Get(ScopeLogin)
	require.True(t, ok)
	require.Equal(t, DefaultPolicies[ScopeLogin], login)

	all := policies.All()
	require.Len(t, all, len(DefaultPolicies))
	require.Equal(t, ScopeLogin, all[0].Scope)
}

func TestNewPoliciesOverrides(t *testing.T) {
	policies, err := NewPolicies(map[string]PolicyOverride{
		ScopeLogin: {Limit: 10},
		"comment":  {Limit: 20, Window: time.Minute, Block: 2 * time.Minute},
		"  ":       {Limit: 1},
	})
	require.NoError(t, err)

	login, ok := policies.Get(ScopeLogin)
	require.True(t, ok)
	require.Equal(t, 10, login.Limit)
	require.Equal(t, DefaultPolicies[ScopeLogin].Window, login.Window)

	comment, ok := policies.Get(" comment ")
	require.True(t, ok)
	require.Equal(t, core.RateLimitPolicy{Scope: "comment", Limit: 20, Window: time.Minute, Block: 2 * time.Minute}, comment)
}

func TestNewPoliciesRejectsIncompleteScope(t *testing.T) {
	_, err := NewPolicies(map[string]PolicyOverride{
		"comment": {Limit: 20},
	})
	require.ErrorIs(t, err, core.ErrInvalidPolicy)
}

func TestPoliciesGetUnknownScope(t *testing.T) {
	policies, err := NewPolicies(nil)
	require.NoError(t, err)

	_, ok := policies.Get("nope")
	require.False(t, ok)
	_, ok = policies.Get(AdminSignalPolicy.Scope)
	require.False(t, ok)
	require.NoError(t, AdminSignalPolicy.Validate())

	var nilPolicies *Policies
	_, ok = nilPolicies.Get(ScopeLogin)
	require.False(t, ok)
}
