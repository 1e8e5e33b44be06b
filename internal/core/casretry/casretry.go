// Package casretry drives optimistic compare-and-swap loops. A lost race
// sleeps for a jittered, doubling delay and tries again until the attempt
// lands or the retry budget (or the context deadline, if sooner) runs out.
package casretry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const (
	DefaultBudget    = 2 * time.Second
	DefaultBaseDelay = 2 * time.Millisecond
	DefaultMaxDelay  = 100 * time.Millisecond
)

// ErrExhausted is returned when the budget ran out while still losing races.
var ErrExhausted = errors.New("rate limit update conflict: retries exhausted")

// Policy bounds a retry loop. Zero values take the package defaults;
// MaxAttempts of zero means attempts are limited only by Budget.
type Policy struct {
	MaxAttempts int
	Budget      time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Attempt runs one try. It reports done=false when it lost a race and
// should be retried; a non-nil error stops the loop immediately.
type Attempt func(ctx context.Context) (done bool, err error)

func (p Policy) withDefaults() Policy {
	if p.Budget <= 0 {
		p.Budget = DefaultBudget
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(DefaultMaxDelay, p.BaseDelay)
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// Do runs attempt until it succeeds and returns the number of attempts made.
func Do(ctx context.Context, p Policy, attempt Attempt) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.withDefaults()

	deadline := time.Now().Add(p.Budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	delay := p.BaseDelay
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return n - 1, err
		}

		done, err := attempt(ctx)
		if err != nil {
			return n, err
		}
		if done {
			return n, nil
		}
		if p.MaxAttempts > 0 && n >= p.MaxAttempts {
			return n, ErrExhausted
		}

		wait := jitter(delay)
		if time.Now().Add(wait).After(deadline) {
			return n, ErrExhausted
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return n, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, p.MaxDelay)
	}
}

// jitter picks a wait in [d/2, d] so colliding writers spread out.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + rand.N(d-half+1)
}
