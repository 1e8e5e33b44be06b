package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/casretry"
)

const selectRateLimitSQL = `
	SELECT scope, identifier, window_start, window_ends_at, request_count, blocked_until, version
	FROM auth_rate_limits
	WHERE scope = ? AND identifier = ?
`

// GetRateLimit returns stored rate limit state for (scope, identifier), or
// nil when the caller has never been seen.
func (s *Store) GetRateLimit(ctx context.Context, scope, identifier string) (*core.RateLimitState, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	scope, identifier, err := normalizeRateLimitKey(scope, identifier)
	if err != nil {
		return nil, err
	}

	state, _, err := scanRateLimit(s.DB.QueryRowContext(ctx, selectRateLimitSQL, scope, identifier))
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	return state, nil
}

// TransactRateLimit reads the row, applies fn and writes the result with a
// single conditional statement: an UPDATE guarded by the row version
// observed by the read, or an INSERT that does nothing if the row appeared
// meanwhile. A concurrent writer makes that statement affect zero rows, and
// the attempt is retried against the fresh row after a jittered backoff
// until s.Retry's budget or the context deadline runs out. A lost insert
// race takes the existing-row path on the next attempt.
//
// No transaction spans the read and the write, so a writer on another
// connection to the same file never strands this one on a stale snapshot.
func (s *Store) TransactRateLimit(ctx context.Context, scope, identifier string, fn core.RateLimitMutation) (*core.RateLimitState, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	scope, identifier, err := normalizeRateLimitKey(scope, identifier)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("rate limit mutation is required")
	}

	var state *core.RateLimitState
	attempts, err := casretry.Do(ctx, s.Retry, func(ctx context.Context) (bool, error) {
		next, applied, err := s.transactRateLimitOnce(ctx, scope, identifier, fn)
		if applied {
			state = next
		}
		return applied, err
	})
	if errors.Is(err, casretry.ErrExhausted) {
		return nil, fmt.Errorf("%w (scope=%s, attempts=%d)", err, scope, attempts)
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) transactRateLimitOnce(ctx context.Context, scope, identifier string, fn core.RateLimitMutation) (*core.RateLimitState, bool, error) {
	current, version, err := scanRateLimit(s.DB.QueryRowContext(ctx, selectRateLimitSQL, scope, identifier))
	if err != nil {
		return nil, false, fmt.Errorf("fetch rate limit: %w", err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		return current, true, nil
	}

	next = next.Clone()
	next.Scope = scope
	next.Identifier = identifier

	var blockedUntil sql.NullInt64
	if next.BlockedUntil != nil {
		blockedUntil = sql.NullInt64{Int64: next.BlockedUntil.UTC().UnixMilli(), Valid: true}
	}
	updatedAt := time.Now().UTC().UnixMilli()

	var result sql.Result
	if current == nil {
		result, err = s.DB.ExecContext(ctx, `
			INSERT INTO auth_rate_limits (scope, identifier, window_start, window_ends_at, request_count, blocked_until, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(scope, identifier) DO NOTHING
		`, scope, identifier, next.WindowStart.UTC().UnixMilli(), next.WindowEndsAt.UTC().UnixMilli(),
			next.RequestCount, blockedUntil, updatedAt)
	} else {
		result, err = s.DB.ExecContext(ctx, `
			UPDATE auth_rate_limits
			SET window_start = ?,
				window_ends_at = ?,
				request_count = ?,
				blocked_until = ?,
				version = version + 1,
				updated_at = ?
			WHERE scope = ? AND identifier = ? AND version = ?
		`, next.WindowStart.UTC().UnixMilli(), next.WindowEndsAt.UTC().UnixMilli(), next.RequestCount,
			blockedUntil, updatedAt, scope, identifier, version)
	}
	if err != nil {
		return nil, false, fmt.Errorf("store rate limit: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("store rate limit: %w", err)
	}
	return next, affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRateLimit(row rowScanner) (*core.RateLimitState, int64, error) {
	var (
		scope        string
		identifier   string
		windowStart  int64
		windowEndsAt int64
		requestCount int
		blockedUntil sql.NullInt64
		version      int64
	)

	if err := row.Scan(&scope, &identifier, &windowStart, &windowEndsAt, &requestCount, &blockedUntil, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	state := &core.RateLimitState{
		Scope:        scope,
		Identifier:   identifier,
		WindowStart:  time.UnixMilli(windowStart).UTC(),
		WindowEndsAt: time.UnixMilli(windowEndsAt).UTC(),
		RequestCount: requestCount,
	}
	if blockedUntil.Valid {
		value := time.UnixMilli(blockedUntil.Int64).UTC()
		state.BlockedUntil = &value
	}

	return state, version, nil
}

func normalizeRateLimitKey(scope, identifier string) (string, string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", "", errors.New("scope is required")
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", "", errors.New("identifier is required")
	}
	return scope, identifier, nil
}
