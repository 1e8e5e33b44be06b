// Package memstore is an in-process rate limit store.
//
// Each transaction reads, mutates and writes its row inside one critical
// section, so concurrent callers on the same identity never lose a race.
// State is private to one process: use it for development, tests and
// single-instance deployments; multi-instance deployments need the libsql
// or redis store.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quillpress/quillpress/internal/core"
)

var errNotInitialized = errors.New("store is not initialized")

type key struct {
	scope      string
	identifier string
}

// Store keeps rate limit rows in a map guarded by a mutex.
type Store struct {
	mu   sync.RWMutex
	rows map[key]*core.RateLimitState
}

// New returns an empty store.
func New() *Store {
	return &Store{rows: make(map[key]*core.RateLimitState)}
}

// TransactRateLimit applies fn to the row for (scope, identifier) while
// holding the write lock. fn must not call back into the store.
func (s *Store) TransactRateLimit(ctx context.Context, scope, identifier string, fn core.RateLimitMutation) (*core.RateLimitState, error) {
	if s == nil {
		return nil, errNotInitialized
	}
	scope = strings.TrimSpace(scope)
	identifier = strings.TrimSpace(identifier)
	if scope == "" || identifier == "" {
		return nil, errors.New("scope and identifier are required")
	}
	if fn == nil {
		return nil, errors.New("rate limit mutation is required")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	k := key{scope: scope, identifier: identifier}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.rows[k].Clone()
	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	stored := next.Clone()
	stored.Scope = scope
	stored.Identifier = identifier
	if s.rows == nil {
		s.rows = make(map[key]*core.RateLimitState)
	}
	s.rows[k] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the stored state, or nil.
func (s *Store) Get(scope, identifier string) *core.RateLimitState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[key{scope: strings.TrimSpace(scope), identifier: strings.TrimSpace(identifier)}].Clone()
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// ListRateLimits returns copies of matching rows ordered by scope then identifier.
func (s *Store) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitState, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := []core.RateLimitState{}
	for _, state := range s.rows {
		if q.Matches(state) {
			entries = append(entries, *state.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Scope != entries[j].Scope {
			return entries[i].Scope < entries[j].Scope
		}
		return entries[i].Identifier < entries[j].Identifier
	})
	return entries, nil
}

// ResetRateLimits deletes matching rows.
func (s *Store) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	return s.deleteWhere(q.Matches), nil
}

// PruneRateLimits deletes rows whose window and block both ended before cutoff.
func (s *Store) PruneRateLimits(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(state *core.RateLimitState) bool {
		if !state.WindowEndsAt.Before(cutoff) {
			return false
		}
		return state.BlockedUntil == nil || state.BlockedUntil.Before(cutoff)
	}), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	if s == nil {
		return errNotInitialized
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) deleteWhere(match func(*core.RateLimitState) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, state := range s.rows {
		if match(state) {
			delete(s.rows, k)
			removed++
		}
	}
	return removed
}
