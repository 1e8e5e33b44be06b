package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/alert"
	"github.com/quillpress/quillpress/internal/core/identity"
	"github.com/quillpress/quillpress/internal/core/window"
	"github.com/quillpress/quillpress/internal/metrics"
	"github.com/quillpress/quillpress/internal/observability"
)

// AlertSource identifies alerts raised by the evaluator.
const AlertSource = "auth-rate-limiter"

// RateLimitStore persists per-(scope, identifier) counters. TransactRateLimit
// must apply fn atomically with respect to other writers of the same row,
// re-running fn when it loses a race.
type RateLimitStore interface {
	TransactRateLimit(ctx context.Context, scope, identifier string, fn core.RateLimitMutation) (*core.RateLimitState, error)
}

// Evaluator is what HTTP surfaces need from a limiter.
type Evaluator interface {
	Evaluate(ctx context.Context, policy core.RateLimitPolicy, identifier string) (core.RateLimitResult, error)
}

// RateLimiter evaluates fixed-window policies with an escalating block.
type RateLimiter struct {
	Store  RateLimitStore
	Clock  func() time.Time
	Alerts alert.Sink
	Logger observability.Logger

	// Dispatch runs alert delivery. Defaults to a new goroutine.
	Dispatch func(func())
}

// Evaluate counts one request for identifier under policy and returns the
// verdict. Only an invalid policy produces an error; store failures fail
// open.
func (r *RateLimiter) Evaluate(ctx context.Context, policy core.RateLimitPolicy, identifier string) (core.RateLimitResult, error) {
	if err := policy.Validate(); err != nil {
		return core.RateLimitResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(identifier) == "" {
		identifier = identity.Unknown
	}

	started := time.Now()
	now := r.now()

	var result core.RateLimitResult
	_, err := r.store().TransactRateLimit(ctx, policy.Scope, identifier, func(current *core.RateLimitState) (*core.RateLimitState, error) {
		// The store may re-run this after losing a race, so the verdict is
		// always taken from the final invocation.
		next, v := Step(current, policy, identifier, now)
		result = v
		return next, nil
	})
	if err != nil {
		result = r.failOpen(ctx, policy, identifier, now, err)
		metrics.RecordRateLimitDecision(policy.Scope, metrics.OutcomeFailOpen, time.Since(started))
		return result, nil
	}

	outcome := metrics.OutcomeAllowed
	switch {
	case result.NewlyBlocked:
		outcome = metrics.OutcomeNewlyBlocked
		r.notify(ctx, alert.Alert{
			Source:   AlertSource,
			Code:     alert.CodeRateLimitBlocked,
			Severity: alert.SeverityWarn,
			Message:  "Rate limit exceeded; caller blocked",
			Context: map[string]any{
				"scope":         policy.Scope,
				"identifier":    identifier,
				"limit":         policy.Limit,
				"window_sec":    int(policy.Window / time.Second),
				"block_sec":     int(policy.Block / time.Second),
				"blocked_until": result.ResetAt.Format(time.RFC3339),
				"request_count": result.CurrentCount,
			},
		})
	case result.Blocked:
		outcome = metrics.OutcomeBlocked
	}
	metrics.RecordRateLimitDecision(policy.Scope, outcome, time.Since(started))

	return result, nil
}

// Step is the per-identity state machine. It returns the state to persist
// (nil when nothing changes) and the verdict for this request. The count is
// incremented before the limit check, so the request that trips the block
// leaves RequestCount at Limit+1.
func Step(current *core.RateLimitState, policy core.RateLimitPolicy, identifier string, now time.Time) (*core.RateLimitState, core.RateLimitResult) {
	if current.Blocked(now) {
		return nil, verdict(current, policy, now, false)
	}

	start := window.Start(now, policy.Window)

	// First request, rollover into a new window, or an expired block all
	// start a fresh count. Only this path clears BlockedUntil.
	if current == nil || !current.WindowStart.Equal(start) || current.BlockedUntil != nil {
		next := &core.RateLimitState{
			Scope:        policy.Scope,
			Identifier:   identifier,
			WindowStart:  start,
			WindowEndsAt: window.End(start, policy.Window),
			RequestCount: 1,
		}
		return next, verdict(next, policy, now, false)
	}

	next := current.Clone()
	next.RequestCount++
	if next.RequestCount > policy.Limit {
		until := now.Add(policy.Block)
		next.BlockedUntil = &until
		return next, verdict(next, policy, now, true)
	}
	return next, verdict(next, policy, now, false)
}

// Inspect reports the verdict the caller currently holds without counting a
// request. Store failures fail open and raise the same error alert as
// Evaluate; only an invalid policy produces an error.
func (r *RateLimiter) Inspect(ctx context.Context, policy core.RateLimitPolicy, identifier string) (core.RateLimitResult, error) {
	if err := policy.Validate(); err != nil {
		return core.RateLimitResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(identifier) == "" {
		identifier = identity.Unknown
	}

	now := r.now()
	var result core.RateLimitResult
	_, err := r.store().TransactRateLimit(ctx, policy.Scope, identifier, func(current *core.RateLimitState) (*core.RateLimitState, error) {
		result = Peek(current, policy, now)
		return nil, nil
	})
	if err != nil {
		return r.failOpen(ctx, policy, identifier, now, err), nil
	}
	return result, nil
}

// Peek is Step without the increment: the verdict current would yield at
// now if no further request were counted.
func Peek(current *core.RateLimitState, policy core.RateLimitPolicy, now time.Time) core.RateLimitResult {
	if current.Blocked(now) {
		return verdict(current, policy, now, false)
	}

	start := window.Start(now, policy.Window)
	if current == nil || !current.WindowStart.Equal(start) || current.BlockedUntil != nil {
		return core.RateLimitResult{
			Allowed:   true,
			Limit:     policy.Limit,
			Remaining: policy.Limit,
			ResetAt:   window.End(start, policy.Window),
		}
	}
	return verdict(current, policy, now, false)
}

func verdict(state *core.RateLimitState, policy core.RateLimitPolicy, now time.Time, newlyBlocked bool) core.RateLimitResult {
	result := core.RateLimitResult{
		Limit:        policy.Limit,
		CurrentCount: state.RequestCount,
		Remaining:    max(policy.Limit-state.RequestCount, 0),
		ResetAt:      state.WindowEndsAt,
		NewlyBlocked: newlyBlocked,
	}

	if state.Blocked(now) {
		result.Blocked = true
		result.ResetAt = *state.BlockedUntil
		result.RetryAfterSeconds = window.SecondsUntil(result.ResetAt, now)
		return result
	}

	result.Allowed = true
	return result
}

func (r *RateLimiter) failOpen(ctx context.Context, policy core.RateLimitPolicy, identifier string, now time.Time, cause error) core.RateLimitResult {
	start := window.Start(now, policy.Window)

	r.notify(ctx, alert.Alert{
		Source:   AlertSource,
		Code:     alert.CodeRateLimitStoreFailure,
		Severity: alert.SeverityError,
		Message:  "Rate limit store failed; allowing request",
		Context: map[string]any{
			"scope":      policy.Scope,
			"identifier": identifier,
			"error":      cause.Error(),
		},
	})

	return core.RateLimitResult{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
		ResetAt:   window.End(start, policy.Window),
		FailOpen:  true,
	}
}

func (r *RateLimiter) notify(ctx context.Context, a alert.Alert) {
	if r.Alerts == nil {
		return
	}

	// Delivery outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)
	sink, logger := r.Alerts, r.Logger
	deliver := func() { alert.Deliver(ctx, sink, a, logger) }

	if r.Dispatch != nil {
		r.Dispatch(deliver)
		return
	}
	go deliver()
}

func (r *RateLimiter) store() RateLimitStore {
	if r.Store == nil {
		return unavailableStore{}
	}
	return r.Store
}

func (r *RateLimiter) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

type unavailableStore struct{}

func (unavailableStore) TransactRateLimit(context.Context, string, string, core.RateLimitMutation) (*core.RateLimitState, error) {
	return nil, fmt.Errorf("rate limit store is not configured")
}
