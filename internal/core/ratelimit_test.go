package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitPolicyValidate(t *testing.T) {
	valid := RateLimitPolicy{Scope: "login", Limit: 5, Window: time.Minute, Block: 5 * time.Minute}
	require.NoError(t, valid.Validate())

	cases := map[string]RateLimitPolicy{
		"MissingScope":    {Limit: 5, Window: time.Minute, Block: time.Minute},
		"ZeroLimit":       {Scope: "login", Window: time.Minute, Block: time.Minute},
		"NegativeLimit":   {Scope: "login", Limit: -1, Window: time.Minute, Block: time.Minute},
		"ZeroWindow":      {Scope: "login", Limit: 5, Block: time.Minute},
		"FractionalBlock": {Scope: "login", Limit: 5, Window: time.Minute, Block: 1500 * time.Millisecond},
		"ZeroBlock":       {Scope: "login", Limit: 5, Window: time.Minute},
	}
	for name, policy := range cases {
		t.Run(name, func(t *testing.T) {
			err := policy.Validate()
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestRateLimitStateBlocked(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(time.Second)

	var nilState *RateLimitState
	require.False(t, nilState.Blocked(now))
	require.False(t, (&RateLimitState{}).Blocked(now))
	require.True(t, (&RateLimitState{BlockedUntil: &until}).Blocked(now))
	require.False(t, (&RateLimitState{BlockedUntil: &until}).Blocked(until))
}

func TestRateLimitStateClone(t *testing.T) {
	until := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	state := &RateLimitState{Scope: "login", RequestCount: 3, BlockedUntil: &until}

	clone := state.Clone()
	clone.RequestCount = 9
	*clone.BlockedUntil = until.Add(time.Hour)

	require.Equal(t, 3, state.RequestCount)
	require.Equal(t, until, *state.BlockedUntil)
}
