package budget

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ragdesk:budget:"

// Daily keys outlive their period by a day, monthly keys by roughly a
// week, so late accounting writes never resurrect a fresh counter.
const (
	dailyTTL   = 48 * time.Hour
	monthlyTTL = 40 * 24 * time.Hour
)

// RedisStore persists token counters as plain Redis integers, one key
// per workspace and period.
type RedisStore struct {
	client *goredis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed budget store.
func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the current usage for both periods.
func (s *RedisStore) Get(ctx context.Context, workspaceID string, now time.Time) (*Usage, error) {
	pipe := s.client.Pipeline()
	dailyCmd := pipe.Get(ctx, redisKeyPrefix+dayKey(workspaceID, now))
	monthlyCmd := pipe.Get(ctx, redisKeyPrefix+monthKey(workspaceID, now))

	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("budget pipeline: %w", err)
	}

	usage := &Usage{}
	if v, err := dailyCmd.Int64(); err == nil {
		usage.Daily = v
	}
	if v, err := monthlyCmd.Int64(); err == nil {
		usage.Monthly = v
	}
	return usage, nil
}

// Add atomically adds tokens to both period counters.
func (s *RedisStore) Add(ctx context.Context, workspaceID string, tokens int64, now time.Time) error {
	daily := redisKeyPrefix + dayKey(workspaceID, now)
	monthly := redisKeyPrefix + monthKey(workspaceID, now)

	pipe := s.client.TxPipeline()
	pipe.IncrBy(ctx, daily, tokens)
	pipe.Expire(ctx, daily, dailyTTL)
	pipe.IncrBy(ctx, monthly, tokens)
	pipe.Expire(ctx, monthly, monthlyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("budget pipeline: %w", err)
	}
	return nil
}

// Reset clears both period counters.
func (s *RedisStore) Reset(ctx context.Context, workspaceID string, now time.Time) error {
	return s.client.Del(ctx,
		redisKeyPrefix+dayKey(workspaceID, now),
		redisKeyPrefix+monthKey(workspaceID, now),
	).Err()
}
