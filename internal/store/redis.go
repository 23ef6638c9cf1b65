package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
)

// RedisStore implements Store backed by Redis. Each decision is one optimistic
// transaction (WATCH + MULTI/EXEC) scoped to a single key, so concurrent
// evaluations for the same identifier serialize at the server while different
// identifiers never contend. A conflicting write aborts the transaction; the
// abort surfaces as a store failure and the caller's fail mode decides the
// outcome. There is deliberately no retry loop here.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "postcraft"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) rateLimitKey(identifier string) string {
	return fmt.Sprintf("%s:rl:%s", s.prefix, identifier)
}

func (s *RedisStore) quotaKey(accountID string) string {
	return fmt.Sprintf("%s:q:%s", s.prefix, accountID)
}

func (s *RedisStore) accountKey(id string) string {
	return fmt.Sprintf("%s:acct:%s", s.prefix, id)
}

// EvalRateLimit loads the identifier's record, applies the sliding-window
// rule and writes it back under WATCH. The key expires at twice the window,
// which bounds stale records without ever expiring an in-window entry.
func (s *RedisStore) EvalRateLimit(ctx context.Context, identifier string, maxRequests int, windowMs, nowMs int64) (models.RateLimitDecision, error) {
	key := s.rateLimitKey(identifier)
	var decision models.RateLimitDecision

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec := models.NewRateLimitRecord(identifier)

		raw, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			// first request for this identifier
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), rec); err != nil {
				return fmt.Errorf("corrupt record at %s: %w", key, err)
			}
		}

		decision = rec.Evaluate(maxRequests, windowMs, nowMs)

		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, time.Duration(2*windowMs)*time.Millisecond)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return models.RateLimitDecision{}, &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
	}
	return decision, nil
}

// ReserveQuota performs the conditional increment on the account's quota hash
// (field = period key) under WATCH, keeping the ceiling hard.
func (s *RedisStore) ReserveQuota(ctx context.Context, accountID, periodKey string, ceiling int64, nowMs int64) (models.QuotaDecision, error) {
	key := s.quotaKey(accountID)
	var decision models.QuotaDecision

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		used, err := parseCount(tx.HGet(ctx, key, periodKey))
		if err != nil {
			return err
		}

		if used >= ceiling {
			decision = models.QuotaDecision{Admitted: false, Used: used, Ceiling: ceiling}
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, periodKey, used+1, "last_action_at", nowMs)
			return nil
		})
		if err != nil {
			return err
		}

		decision = models.QuotaDecision{Admitted: true, Used: used + 1, Ceiling: ceiling}
		return nil
	}, key)
	if err != nil {
		return models.QuotaDecision{}, &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
	}
	return decision, nil
}

// QuotaUsed returns the count for a period key, zero if absent.
func (s *RedisStore) QuotaUsed(ctx context.Context, accountID, periodKey string) (int64, error) {
	used, err := parseCount(s.client.HGet(ctx, s.quotaKey(accountID), periodKey))
	if err != nil {
		return 0, &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
	}
	return used, nil
}

// GetRateLimitRecord returns the stored record for inspection.
func (s *RedisStore) GetRateLimitRecord(ctx context.Context, identifier string) (*models.RateLimitRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.rateLimitKey(identifier)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
	}

	rec := models.NewRateLimitRecord(identifier)
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, false, fmt.Errorf("corrupt record for %s: %w", identifier, err)
	}
	return rec, true, nil
}

// GetAccount retrieves an account by ID
func (s *RedisStore) GetAccount(ctx context.Context, id string) (*models.Account, bool, error) {
	raw, err := s.client.Get(ctx, s.accountKey(id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
	}

	var acc models.Account
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		return nil, false, fmt.Errorf("corrupt account %s: %w", id, err)
	}
	return &acc, true, nil
}

// SetAccount stores or updates an account
func (s *RedisStore) SetAccount(ctx context.Context, acc *models.Account) error {
	now := time.Now()
	cp := *acc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	encoded, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.accountKey(cp.ID), encoded, 0).Err(); err != nil {
		return &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
	}
	return nil
}

// Ping verifies Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Backend returns the backend name.
func (s *RedisStore) Backend() string {
	return "redis"
}

// Stats returns storage statistics by scanning prefixed keys.
func (s *RedisStore) Stats(ctx context.Context) (StoreStats, error) {
	var stats StoreStats

	counts := []struct {
		pattern string
		dest    *int
	}{
		{s.prefix + ":acct:*", &stats.AccountCount},
		{s.prefix + ":rl:*", &stats.RateLimitCount},
		{s.prefix + ":q:*", &stats.QuotaCount},
	}
	for _, c := range counts {
		iter := s.client.Scan(ctx, 0, c.pattern, 100).Iterator()
		for iter.Next(ctx) {
			*c.dest++
		}
		if err := iter.Err(); err != nil {
			return StoreStats{}, &errors.ErrStoreUnavailable{Backend: "redis", Err: err}
		}
	}
	return stats, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseCount(cmd *redis.StringCmd) (int64, error) {
	raw, err := cmd.Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Ensure RedisStore implements the Store interface
var _ Store = (*RedisStore)(nil)
