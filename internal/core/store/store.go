package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core/casretry"
)

const driverLibsql = "libsql"

const (
	memoryDSN              = ":memory:"
	localBusyTimeoutMillis = 5000
)

var errNotInitialized = errors.New("store is not initialized")

// remoteSchemes are DSN prefixes served by a libsql server rather than an
// embedded database file.
var remoteSchemes = []string{"libsql:", "http:", "https:", "ws:", "wss:"}

// Store keeps rate limit state in libsql, either embedded or remote.
type Store struct {
	DB     *sql.DB
	driver string

	// Retry bounds optimistic retries in TransactRateLimit.
	Retry casretry.Policy
}

// Open connects to the database described by cfg and verifies it answers.
// Embedded databases are limited to one connection.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}

	if isLocalDSN(dsn) {
		err = configureLocal(ctx, db, dsn)
	}
	if err == nil {
		if pingErr := db.PingContext(ctx); pingErr != nil {
			err = fmt.Errorf("ping libsql store: %w", pingErr)
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		DB:     db,
		driver: driver,
		Retry:  casretry.Policy{MaxAttempts: cfg.MaxAttempts, Budget: cfg.RetryBudget},
	}, nil
}

// Close releases the connection pool. Nil stores close cleanly.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Ping backs the rate_limit_store health check.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.DB.PingContext(ctx)
}

// configureLocal pins embedded databases to a single connection. Each
// :memory: connection is a separate database, and a file database serializes
// writers anyway, so one connection avoids SQLITE_BUSY churn between
// transactions in the same process.
func configureLocal(ctx context.Context, db *sql.DB, dsn string) error {
	db.SetMaxOpenConns(1)
	if dsn == memoryDSN {
		return nil
	}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "journal mode"},
		{fmt.Sprintf("PRAGMA busy_timeout=%d", localBusyTimeoutMillis), "busy timeout"},
	}
	for _, p := range pragmas {
		var result string
		if err := db.QueryRowContext(ctx, p.stmt).Scan(&result); err != nil {
			return fmt.Errorf("configure store %s: %w", p.what, err)
		}
	}
	return nil
}

func isLocalDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// buildLibsqlDSN prefers store.url over store.path. Bare paths become file:
// DSNs and their parent directory is created. The auth token is only added
// to remote DSNs.
func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		return withAuthToken(raw, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == memoryDSN:
		return path, nil
	case strings.HasPrefix(path, "file:"):
		local, err := filePathOf(path)
		if err != nil {
			return "", err
		}
		return path, ensureParentDir(local)
	case !isLocalDSN(path):
		return withAuthToken(path, cfg.AuthToken)
	default:
		if err := ensureParentDir(path); err != nil {
			return "", err
		}
		return "file:" + filepath.Clean(path), nil
	}
}

// withAuthToken sets the authToken query parameter unless the DSN already
// carries one.
func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	q := u.Query()
	if q.Get("authToken") != "" {
		return dsn, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func filePathOf(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	return strings.TrimPrefix(p, "//"), nil
}

func ensureParentDir(path string) error {
	if strings.TrimSpace(path) == "" || path == memoryDSN {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
