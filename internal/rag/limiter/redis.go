package limiter

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ragdesk/ragdesk/pkg/id"
)

const redisKeyPrefix = "ragdesk:ratelimit:"

// RedisLimiter implements sliding window rate limiting over a Redis
// sorted set per key. Scores are request timestamps in nanoseconds.
type RedisLimiter struct {
	client *goredis.Client
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *goredis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow checks key against limit and records the request only when it
// is admitted. Rejected requests never enter the window, so a
// saturated key recovers as admitted entries age out.
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Decision, error) {
	now := time.Now()
	redisKey := redisKeyPrefix + key
	minScore := fmt.Sprintf("%d", now.Add(-window).UnixNano())

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", minScore)
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(countCmd.Val())
	d := decision(count, limit, window, now, oldestEntryTime(oldestCmd.Val()))
	if !d.Allowed {
		return d, nil
	}

	record := r.client.Pipeline()
	record.ZAdd(ctx, redisKey, goredis.Z{
		Score:  float64(now.UnixNano()),
		Member: id.NewULID(),
	})
	record.Expire(ctx, redisKey, window*2)
	if _, err := record.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit record: %w", err)
	}
	return d, nil
}

// Status reports the current window state without recording a request.
func (r *RedisLimiter) Status(ctx context.Context, key string, limit int, window time.Duration) (*Decision, error) {
	now := time.Now()
	redisKey := redisKeyPrefix + key
	minScore := fmt.Sprintf("%d", now.Add(-window).UnixNano())

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", minScore)
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(countCmd.Val())
	d := &Decision{
		Allowed:   count < limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt(window, now, oldestEntryTime(oldestCmd.Val())),
	}
	return d, nil
}

// Reset clears all recorded requests for key.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

// oldestEntryTime extracts the oldest recorded timestamp, zero when the
// window is empty.
func oldestEntryTime(entries []goredis.Z) time.Time {
	if len(entries) == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(entries[0].Score))
}

// decision builds the outcome for an Allow call. count is the window
// size before the current request was recorded.
func decision(count, limit int, window time.Duration, now, oldest time.Time) *Decision {
	return &Decision{
		Allowed:   count < limit,
		Limit:     limit,
		Remaining: max(limit-count-1, 0),
		ResetAt:   resetAt(window, now, oldest),
	}
}

// resetAt is when the oldest counted request slides out of the window.
func resetAt(window time.Duration, now, oldest time.Time) time.Time {
	if oldest.IsZero() {
		return now.Add(window)
	}
	return oldest.Add(window)
}
