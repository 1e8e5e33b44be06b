package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/casretry"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/core/memstore"
	"github.com/quillpress/quillpress/internal/core/redisstore"
	"github.com/quillpress/quillpress/internal/core/store"
)

// rateLimitBackend is what serve and the rate-limit commands need from any
// configured store driver.
type rateLimitBackend interface {
	engine.RateLimitStore
	ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitState, error)
	ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error)
	PruneRateLimits(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openBackend opens the driver named by store.driver. The libsql schema is
// migrated on open so a fresh database is usable immediately.
func openBackend(ctx context.Context, cfg *config.Config) (rateLimitBackend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", config.DriverLibsql:
		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		if _, err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	case config.DriverRedis:
		rs, err := redisstore.Open(ctx, cfg.Redis, casretry.Policy{
			MaxAttempts: cfg.Store.MaxAttempts,
			Budget:      cfg.Store.RetryBudget,
		})
		if err != nil {
			return nil, err
		}
		return rs, nil
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func openConfiguredBackend(ctx context.Context) (*config.Config, rateLimitBackend, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, backend, nil
}

// buildPolicies merges rate_limit.policies from config over the built-ins.
func buildPolicies(cfg *config.Config) (*engine.Policies, error) {
	overrides := make(map[string]engine.PolicyOverride, len(cfg.RateLimit.Policies))
	for scope, p := range cfg.RateLimit.Policies {
		overrides[scope] = engine.PolicyOverride{Limit: p.Limit, Window: p.Window, Block: p.Block}
	}
	return engine.NewPolicies(overrides)
}
