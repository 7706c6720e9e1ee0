package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quotaopts "github.com/ragdesk/ragdesk/pkg/options/quota"
)

func trackerOpts() *quotaopts.Options {
	opts := quotaopts.NewOptions()
	_ = opts.Complete()
	return opts
}

func TestTrackerCheckAndAdd(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), trackerOpts())
	ctx := context.Background()

	b := tr.Check(ctx, "ws1", "free")
	assert.Equal(t, "ws1", b.WorkspaceID)
	assert.Equal(t, int64(20_000), b.DailyLimit)
	assert.Equal(t, int64(200_000), b.MonthlyLimit)
	assert.Zero(t, b.DailyUsed)
	assert.False(t, b.Exhausted())

	tr.Add(ctx, "ws1", 1500)
	tr.Add(ctx, "ws1", 500)

	b = tr.Check(ctx, "ws1", "free")
	assert.Equal(t, int64(2000), b.DailyUsed)
	assert.Equal(t, int64(2000), b.MonthlyUsed)
	assert.False(t, b.Exhausted())
}

func TestTrackerExhaustion(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), trackerOpts())
	ctx := context.Background()

	tr.Add(ctx, "ws1", 20_000)
	b := tr.Check(ctx, "ws1", "free")
	assert.Equal(t, int64(20_000), b.DailyUsed)
	assert.True(t, b.Exhausted())

	// A bigger plan for the same usage is not exhausted.
	b = tr.Check(ctx, "ws1", "pro")
	assert.False(t, b.Exhausted())
}

func TestTrackerResetTimestamps(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), trackerOpts())

	b := tr.Check(context.Background(), "ws1", "free")
	now := time.Now().UTC()

	assert.Equal(t, time.UTC, b.ResetDailyAt.Location())
	assert.True(t, b.ResetDailyAt.After(now))
	assert.True(t, b.ResetDailyAt.Sub(now) <= 24*time.Hour)
	assert.Equal(t, 0, b.ResetDailyAt.Hour())

	assert.True(t, b.ResetMonthlyAt.After(now))
	assert.Equal(t, 1, b.ResetMonthlyAt.Day())
	assert.Equal(t, 0, b.ResetMonthlyAt.Hour())
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), trackerOpts())
	ctx := context.Background()

	tr.Add(ctx, "ws1", 999)
	require.NoError(t, tr.Reset(ctx, "ws1"))

	b := tr.Check(ctx, "ws1", "free")
	assert.Zero(t, b.DailyUsed)
	assert.Zero(t, b.MonthlyUsed)
}

func TestTrackerIgnoresNonPositiveTokens(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), trackerOpts())
	ctx := context.Background()

	tr.Add(ctx, "ws1", 0)
	tr.Add(ctx, "ws1", -10)

	b := tr.Check(ctx, "ws1", "free")
	assert.Zero(t, b.DailyUsed)
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, workspaceID string, now time.Time) (*Usage, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Add(ctx context.Context, workspaceID string, tokens int64, now time.Time) error {
	return errors.New("connection refused")
}

func (failingStore) Reset(ctx context.Context, workspaceID string, now time.Time) error {
	return errors.New("connection refused")
}

func TestTrackerFailOpen(t *testing.T) {
	tr := NewTracker(failingStore{}, trackerOpts())

	b := tr.Check(context.Background(), "ws1", "free")
	assert.Zero(t, b.DailyUsed)
	assert.False(t, b.Exhausted())

	// Add must not panic when the store is down.
	tr.Add(context.Background(), "ws1", 100)
}

func TestPeriodKeys(t *testing.T) {
	at := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "ws1:20260830", dayKey("ws1", at))
	assert.Equal(t, "ws1:202608", monthKey("ws1", at))
}

func setupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379", DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable, skipping: %v", err)
	}
	client.FlushDB(context.Background())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	now := time.Now().UTC()

	usage, err := s.Get(ctx, "ws1", now)
	require.NoError(t, err)
	assert.Zero(t, usage.Daily)

	require.NoError(t, s.Add(ctx, "ws1", 1200, now))
	require.NoError(t, s.Add(ctx, "ws1", 300, now))

	usage, err = s.Get(ctx, "ws1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), usage.Daily)
	assert.Equal(t, int64(1500), usage.Monthly)

	require.NoError(t, s.Reset(ctx, "ws1", now))
	usage, err = s.Get(ctx, "ws1", now)
	require.NoError(t, err)
	assert.Zero(t, usage.Daily)
}
