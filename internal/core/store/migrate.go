package store

import (
	"context"
	"fmt"
	"time"
)

// migration is one forward-only schema step. Versions are applied in order
// and recorded in schema_migrations so each runs exactly once.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create auth_rate_limits",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS auth_rate_limits (
				scope TEXT NOT NULL,
				identifier TEXT NOT NULL,
				window_start INTEGER NOT NULL,
				window_ends_at INTEGER NOT NULL,
				request_count INTEGER NOT NULL DEFAULT 0,
				blocked_until INTEGER,
				version INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (scope, identifier)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_auth_rate_limits_window_ends ON auth_rate_limits(window_ends_at)`,
		},
	},
	{
		version: 2,
		name:    "index blocked_until for prune",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_auth_rate_limits_blocked_until ON auth_rate_limits(blocked_until)`,
		},
	},
}

const createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at INTEGER NOT NULL
)`

// MigrationStatus reports one known migration and whether it has run.
type MigrationStatus struct {
	Version   int
	Name      string
	AppliedAt *time.Time
}

// Migrate applies every pending migration, each in its own transaction.
// It returns how many were applied; zero means the schema was current.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if _, done := applied[m.version]; done {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Migrations lists every known migration with its applied time, if any.
func (s *Store) Migrations(ctx context.Context) ([]MigrationStatus, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		status := MigrationStatus{Version: m.version, Name: m.name}
		if ms, ok := applied[m.version]; ok {
			at := time.UnixMilli(ms).UTC()
			status.AppliedAt = &at
		}
		out = append(out, status)
	}
	return out, nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]int64, error) {
	if _, err := s.DB.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	applied := map[int]int64{}
	for rows.Next() {
		var (
			version   int
			appliedAt int64
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("read schema_migrations: %w", err)
		}
		applied[version] = appliedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.version, err)
	}
	return nil
}
