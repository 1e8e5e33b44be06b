package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quillpress/quillpress/internal/core"
)

func whereClause(q core.RateLimitQuery) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	if scope := strings.TrimSpace(q.Scope); scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, scope)
	}
	if identifier := strings.TrimSpace(q.Identifier); identifier != "" {
		conds = append(conds, "identifier = ?")
		args = append(args, identifier)
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		conds = append(conds, "identifier LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(prefix)+"%")
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func escapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}

func (s *Store) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitState, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT scope, identifier, window_start, window_ends_at, request_count, blocked_until, version
		FROM auth_rate_limits
		%s
		ORDER BY scope, identifier
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.RateLimitState{}
	for rows.Next() {
		state, _, err := scanRateLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entries = append(entries, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	return entries, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM auth_rate_limits
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes matching rows, unblocking those callers.
func (s *Store) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM auth_rate_limits
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return affected, nil
}

// PruneRateLimits deletes rows whose window and block both ended before
// cutoff. Such rows carry no information the evaluator would use.
func (s *Store) PruneRateLimits(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ms := cutoff.UTC().UnixMilli()
	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM auth_rate_limits
		WHERE window_ends_at < ?
		AND (blocked_until IS NULL OR blocked_until < ?)
	`, ms, ms)
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return affected, nil
}
