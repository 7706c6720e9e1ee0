package biz

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/internal/model"
	cacheopts "github.com/ragdesk/ragdesk/pkg/options/cache"
)

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "what is the refund policy", normalizeQuery("  What   is THE refund\tpolicy "))
	assert.Equal(t, "", normalizeQuery("   "))
}

func TestCacheKeyScoping(t *testing.T) {
	c := NewResultCache(nil, cacheopts.NewOptions())

	base := c.cacheKey("ws1", "refund policy", 10)

	// Same workspace, normalized-equal queries share a key.
	assert.Equal(t, base, c.cacheKey("ws1", "  Refund   POLICY ", 10))

	// Different workspace, query or top_k each change the key.
	assert.NotEqual(t, base, c.cacheKey("ws2", "refund policy", 10))
	assert.NotEqual(t, base, c.cacheKey("ws1", "shipping policy", 10))
	assert.NotEqual(t, base, c.cacheKey("ws1", "refund policy", 5))

	// Keys embed the workspace so invalidation can match by prefix.
	assert.Contains(t, base, "ws1:")
}

func TestCacheDisabled(t *testing.T) {
	opts := cacheopts.NewOptions()
	opts.Enabled = false
	c := NewResultCache(nil, opts)

	assert.False(t, c.Enabled())
	chunks, hit := c.Get(context.Background(), "ws1", "q", 10)
	assert.Nil(t, chunks)
	assert.False(t, hit)
	// Set must be a silent no-op.
	c.Set(context.Background(), "ws1", "q", 10, []model.RetrievedChunk{{ChunkID: "c1"}})
}

func setupCacheRedis(t *testing.T) *goredis.Client {
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

func TestCacheRoundTrip(t *testing.T) {
	client := setupCacheRedis(t)
	opts := cacheopts.NewOptions()
	opts.TTL = time.Minute
	c := NewResultCache(client, opts)
	ctx := context.Background()

	stored := []model.RetrievedChunk{
		{ChunkID: "c1", DocumentID: "d1", ChunkIndex: 0, Text: "refunds within 30 days", SimilarityScore: 0.92},
		{ChunkID: "c2", DocumentID: "d1", ChunkIndex: 1, Text: "exchanges within 60 days", SimilarityScore: 0.81},
	}
	c.Set(ctx, "ws1", "refund policy", 10, stored)

	got, hit := c.Get(ctx, "ws1", "Refund   Policy", 10)
	require.True(t, hit)
	require.Len(t, got, 2)
	assert.Equal(t, stored, got)

	// Other workspaces never see the entry.
	_, hit = c.Get(ctx, "ws2", "refund policy", 10)
	assert.False(t, hit)
}

func TestCacheEmptyResultIsAHit(t *testing.T) {
	client := setupCacheRedis(t)
	c := NewResultCache(client, cacheopts.NewOptions())
	ctx := context.Background()

	c.Set(ctx, "ws1", "no matches", 10, nil)

	got, hit := c.Get(ctx, "ws1", "no matches", 10)
	assert.True(t, hit)
	assert.Empty(t, got)
}

func TestCacheInvalidateWorkspace(t *testing.T) {
	client := setupCacheRedis(t)
	c := NewResultCache(client, cacheopts.NewOptions())
	ctx := context.Background()

	c.Set(ctx, "ws1", "q1", 10, []model.RetrievedChunk{{ChunkID: "a1"}})
	c.Set(ctx, "ws1", "q2", 10, []model.RetrievedChunk{{ChunkID: "a2"}})
	c.Set(ctx, "ws2", "q1", 10, []model.RetrievedChunk{{ChunkID: "b1"}})

	deleted, err := c.InvalidateWorkspace(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, hit := c.Get(ctx, "ws1", "q1", 10)
	assert.False(t, hit)
	_, hit = c.Get(ctx, "ws2", "q1", 10)
	assert.True(t, hit)
}

func TestCacheCorruptEntryIsDeleted(t *testing.T) {
	client := setupCacheRedis(t)
	c := NewResultCache(client, cacheopts.NewOptions())
	ctx := context.Background()

	key := c.cacheKey("ws1", "q", 10)
	require.NoError(t, client.Set(ctx, key, "not json", time.Minute).Err())

	_, hit := c.Get(ctx, "ws1", "q", 10)
	assert.False(t, hit)
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
