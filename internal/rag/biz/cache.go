package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ragdesk/ragdesk/internal/model"
	cacheopts "github.com/ragdesk/ragdesk/pkg/options/cache"
	"github.com/ragdesk/ragdesk/pkg/utils/json"
)

// ResultCache caches vector search results in Redis, keyed by
// workspace, normalized query and the candidate count searched. The
// entry holds the ordered chunk list as returned by the store;
// threshold, reranking and generation run per request on top of it.
// Every failure path degrades to a miss so a Redis outage never
// blocks queries.
type ResultCache struct {
	redis *goredis.Client
	opts  *cacheopts.Options
}

// NewResultCache creates a result cache. A nil client disables it.
func NewResultCache(redis *goredis.Client, opts *cacheopts.Options) *ResultCache {
	return &ResultCache{redis: redis, opts: opts}
}

// Enabled reports whether lookups can hit.
func (c *ResultCache) Enabled() bool {
	return c.opts.Enabled && c.redis != nil
}

// normalizeQuery case-folds the query and collapses runs of whitespace
// so trivially different phrasings share a cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// cacheKey derives the Redis key for one query.
func (c *ResultCache) cacheKey(workspaceID, query string, topK int) string {
	payload := fmt.Sprintf("%s\x00%s\x00%d", workspaceID, normalizeQuery(query), topK)
	hash := sha256.Sum256([]byte(payload))
	return c.opts.KeyPrefix + workspaceID + ":" + hex.EncodeToString(hash[:])
}

// Get returns the cached search result for a query. The second return
// reports a hit; an empty chunk list is a valid entry.
func (c *ResultCache) Get(ctx context.Context, workspaceID, query string, topK int) ([]model.RetrievedChunk, bool) {
	if !c.Enabled() {
		return nil, false
	}

	key := c.cacheKey(workspaceID, query, topK)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("result cache get failed", "key", key, "error", err.Error())
		}
		return nil, false
	}

	var chunks []model.RetrievedChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		logger.Warnw("corrupt result cache entry, deleting", "key", key, "error", err.Error())
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}

	return chunks, true
}

// Set stores a search result. Failures are logged and ignored.
func (c *ResultCache) Set(ctx context.Context, workspaceID, query string, topK int, chunks []model.RetrievedChunk) {
	if !c.Enabled() {
		return
	}

	if chunks == nil {
		chunks = []model.RetrievedChunk{}
	}
	data, err := json.Marshal(chunks)
	if err != nil {
		logger.Warnw("failed to marshal search result for caching", "error", err.Error())
		return
	}

	key := c.cacheKey(workspaceID, query, topK)
	if err := c.redis.Set(ctx, key, data, c.opts.TTL).Err(); err != nil {
		logger.Warnw("result cache set failed", "key", key, "error", err.Error())
	}
}

// InvalidateWorkspace removes all cached results of one workspace.
// Called after the workspace corpus changes.
func (c *ResultCache) InvalidateWorkspace(ctx context.Context, workspaceID string) (int, error) {
	return c.deleteByPattern(ctx, c.opts.KeyPrefix+workspaceID+":*")
}

// InvalidateAll removes every cached result.
func (c *ResultCache) InvalidateAll(ctx context.Context) (int, error) {
	return c.deleteByPattern(ctx, c.opts.KeyPrefix+"*")
}

func (c *ResultCache) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}

	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "key", iter.Val(), "error", err.Error())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}

	logger.Infow("invalidated result cache", "pattern", pattern, "deleted", deleted)
	return deleted, nil
}

// Stats reports cache configuration and current entry count.
func (c *ResultCache) Stats(ctx context.Context) (map[string]any, error) {
	if !c.Enabled() {
		return map[string]any{"enabled": false}, nil
	}

	iter := c.redis.Scan(ctx, 0, c.opts.KeyPrefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return map[string]any{
		"enabled":    true,
		"key_count":  count,
		"ttl":        c.opts.TTL.String(),
		"key_prefix": c.opts.KeyPrefix,
	}, nil
}
