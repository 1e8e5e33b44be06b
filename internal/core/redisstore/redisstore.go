// Package redisstore keeps rate limit state in Redis so several service
// instances share one view of each caller.
//
// Each (scope, identifier) pair is one hash. Updates use WATCH/MULTI: the
// transaction aborts if another client touched the hash after it was read,
// and the mutation is re-run against the fresh value after a jittered
// backoff. Retries continue until the retry budget or the context deadline
// runs out, so a burst on one identity serializes instead of failing.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/casretry"
)

// DefaultPrefix namespaces keys when none is configured.
const DefaultPrefix = "quillpress:ratelimit"

const (
	fieldScope        = "scope"
	fieldIdentifier   = "identifier"
	fieldWindowStart  = "window_start"
	fieldWindowEndsAt = "window_ends_at"
	fieldRequestCount = "request_count"
	fieldBlockedUntil = "blocked_until"
)

// Store implements the evaluator's store contract on Redis.
type Store struct {
	Client redis.UniversalClient
	Prefix string
	Retry  casretry.Policy
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{Client: client, Prefix: prefix}
}

// Open connects using cfg and verifies the server answers PING.
func Open(ctx context.Context, cfg config.RedisConfig, retry casretry.Policy) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}

	return &Store{Client: client, Prefix: cfg.Prefix, Retry: retry}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.Client == nil {
		return errors.New("store is not initialized")
	}
	return s.Client.Ping(ctx).Err()
}

// TransactRateLimit applies fn to the hash for (scope, identifier).
func (s *Store) TransactRateLimit(ctx context.Context, scope, identifier string, fn core.RateLimitMutation) (*core.RateLimitState, error) {
	if s == nil || s.Client == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	scope = strings.TrimSpace(scope)
	identifier = strings.TrimSpace(identifier)
	if scope == "" || identifier == "" {
		return nil, errors.New("scope and identifier are required")
	}
	if fn == nil {
		return nil, errors.New("rate limit mutation is required")
	}

	key := s.key(scope, identifier)
	var result *core.RateLimitState

	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := decodeState(scope, identifier, values)
		if err != nil {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}

		next = next.Clone()
		next.Scope = scope
		next.Identifier = identifier

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeState(next))
			if next.BlockedUntil == nil {
				pipe.HDel(ctx, key, fieldBlockedUntil)
			}
			pipe.PExpireAt(ctx, key, expiresAt(next))
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	attempts, err := casretry.Do(ctx, s.Retry, func(ctx context.Context) (bool, error) {
		err := s.Client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return err == nil, err
	})
	if errors.Is(err, casretry.ErrExhausted) {
		return nil, fmt.Errorf("%w (scope=%s, attempts=%d)", err, scope, attempts)
	}
	if err != nil {
		return nil, fmt.Errorf("redis rate limit transaction: %w", err)
	}
	return result, nil
}

// GetRateLimit returns the stored state, or nil.
func (s *Store) GetRateLimit(ctx context.Context, scope, identifier string) (*core.RateLimitState, error) {
	if s == nil || s.Client == nil {
		return nil, errors.New("store is not initialized")
	}
	values, err := s.Client.HGetAll(ctx, s.key(scope, identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	return decodeState(scope, identifier, values)
}

// ListRateLimits scans the key prefix and returns matching rows ordered by
// scope then identifier.
func (s *Store) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitState, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	entries := []core.RateLimitState{}
	err := s.scan(ctx, func(key string, state *core.RateLimitState) error {
		if q.Matches(state) {
			entries = append(entries, *state)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Scope != entries[j].Scope {
			return entries[i].Scope < entries[j].Scope
		}
		return entries[i].Identifier < entries[j].Identifier
	})
	return entries, nil
}

// ResetRateLimits deletes matching hashes.
func (s *Store) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	removed, err := s.deleteWhere(ctx, q.Matches)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return removed, nil
}

// PruneRateLimits deletes hashes whose window and block both ended before
// cutoff. Keys normally expire on their own; this catches keys written
// without a TTL.
func (s *Store) PruneRateLimits(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := s.deleteWhere(ctx, func(state *core.RateLimitState) bool {
		if !state.WindowEndsAt.Before(cutoff) {
			return false
		}
		return state.BlockedUntil == nil || state.BlockedUntil.Before(cutoff)
	})
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return removed, nil
}

func (s *Store) deleteWhere(ctx context.Context, match func(*core.RateLimitState) bool) (int64, error) {
	var keys []string
	err := s.scan(ctx, func(key string, state *core.RateLimitState) error {
		if match(state) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.Client.Del(ctx, keys...).Result()
}

func (s *Store) scan(ctx context.Context, visit func(key string, state *core.RateLimitState) error) error {
	if s == nil || s.Client == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	iter := s.Client.Scan(ctx, 0, s.prefix()+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		values, err := s.Client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		state, err := decodeState(values[fieldScope], values[fieldIdentifier], values)
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if state == nil {
			continue
		}
		if err := visit(key, state); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *Store) prefix() string {
	if p := strings.TrimSpace(s.Prefix); p != "" {
		return strings.TrimSuffix(p, ":")
	}
	return DefaultPrefix
}

func (s *Store) key(scope, identifier string) string {
	return s.prefix() + ":" + scope + ":" + identifier
}

func encodeState(state *core.RateLimitState) map[string]any {
	values := map[string]any{
		fieldScope:        state.Scope,
		fieldIdentifier:   state.Identifier,
		fieldWindowStart:  state.WindowStart.UTC().UnixMilli(),
		fieldWindowEndsAt: state.WindowEndsAt.UTC().UnixMilli(),
		fieldRequestCount: state.RequestCount,
	}
	if state.BlockedUntil != nil {
		values[fieldBlockedUntil] = state.BlockedUntil.UTC().UnixMilli()
	}
	return values
}

func decodeState(scope, identifier string, values map[string]string) (*core.RateLimitState, error) {
	if len(values) == 0 {
		return nil, nil
	}

	windowStart, err := parseMillis(values, fieldWindowStart)
	if err != nil {
		return nil, err
	}
	windowEndsAt, err := parseMillis(values, fieldWindowEndsAt)
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(values[fieldRequestCount])
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldRequestCount, err)
	}

	state := &core.RateLimitState{
		Scope:        scope,
		Identifier:   identifier,
		WindowStart:  windowStart,
		WindowEndsAt: windowEndsAt,
		RequestCount: count,
	}
	if raw, ok := values[fieldBlockedUntil]; ok && raw != "" {
		until, err := parseMillis(values, fieldBlockedUntil)
		if err != nil {
			return nil, err
		}
		state.BlockedUntil = &until
	}
	return state, nil
}

func parseMillis(values map[string]string, field string) (time.Time, error) {
	ms, err := strconv.ParseInt(values[field], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// expiresAt is the moment the row stops influencing verdicts: a missing
// hash and an expired window or block both start a fresh window.
func expiresAt(state *core.RateLimitState) time.Time {
	expiry := state.WindowEndsAt
	if state.BlockedUntil != nil && state.BlockedUntil.After(expiry) {
		expiry = *state.BlockedUntil
	}
	return expiry.Add(time.Second)
}
