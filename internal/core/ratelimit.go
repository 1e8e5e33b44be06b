package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPolicy is returned when a rate limit policy cannot be enforced.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// RateLimitPolicy describes how a protected operation is throttled.
type RateLimitPolicy struct {
	Scope  string        `json:"scope" yaml:"scope"`
	Limit  int           `json:"limit" yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
	Block  time.Duration `json:"block" yaml:"block"`
}

// Validate rejects policies that would make the limiter meaningless.
func (p RateLimitPolicy) Validate() error {
	switch {
	case strings.TrimSpace(p.Scope) == "":
		return fmt.Errorf("%w: scope is required", ErrInvalidPolicy)
	case p.Limit <= 0:
		return fmt.Errorf("%w: %s: limit must be positive, got %d", ErrInvalidPolicy, p.Scope, p.Limit)
	case p.Window < time.Second || p.Window%time.Second != 0:
		return fmt.Errorf("%w: %s: window must be a positive whole number of seconds, got %s", ErrInvalidPolicy, p.Scope, p.Window)
	case p.Block < time.Second || p.Block%time.Second != 0:
		return fmt.Errorf("%w: %s: block must be a positive whole number of seconds, got %s", ErrInvalidPolicy, p.Scope, p.Block)
	}
	return nil
}

// RateLimitState captures the persisted counter for one caller under one scope.
type RateLimitState struct {
	Scope        string     `json:"scope"`
	Identifier   string     `json:"identifier"`
	WindowStart  time.Time  `json:"window_start"`
	WindowEndsAt time.Time  `json:"window_ends_at"`
	RequestCount int        `json:"request_count"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// Blocked reports whether the block is still in force at now.
func (s *RateLimitState) Blocked(now time.Time) bool {
	return s != nil && s.BlockedUntil != nil && now.Before(*s.BlockedUntil)
}

// Clone returns a deep copy so mutations never alias stored values.
func (s *RateLimitState) Clone() *RateLimitState {
	if s == nil {
		return nil
	}
	out := *s
	if s.BlockedUntil != nil {
		until := *s.BlockedUntil
		out.BlockedUntil = &until
	}
	return &out
}

// RateLimitMutation computes the next state from the current one.
// current is nil when no row exists yet. Returning nil next means no write
// is needed. Stores may invoke a mutation more than once, so it must not
// have side effects.
type RateLimitMutation func(current *RateLimitState) (next *RateLimitState, err error)

// RateLimitResult is the verdict for one evaluated request.
type RateLimitResult struct {
	Allowed           bool      `json:"allowed"`
	Blocked           bool      `json:"blocked"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	CurrentCount      int       `json:"current_count"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`

	// NewlyBlocked is set only on the request that tripped the block.
	NewlyBlocked bool `json:"-"`
	// FailOpen is set when the verdict was produced without the store.
	FailOpen bool `json:"-"`
}
