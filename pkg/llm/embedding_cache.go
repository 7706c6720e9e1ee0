package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ragdesk/ragdesk/pkg/utils/json"
)

// EmbeddingCacheConfig configures the read-through embedding cache.
type EmbeddingCacheConfig struct {
	// Enabled toggles the cache.
	Enabled bool
	// TTL is the entry lifetime. Embeddings for a given model are
	// stable, so this can be long.
	TTL time.Duration
	// KeyPrefix is the cache key prefix.
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig returns the default embedding cache configuration.
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		Enabled:   true,
		TTL:       24 * time.Hour,
		KeyPrefix: "ragdesk:emb:",
	}
}

// CachedEmbeddingProvider wraps an EmbeddingProvider with a
// read-through Redis cache. Cache failures fall through to the
// underlying provider, a broken cache never fails an embed call.
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	redis    *goredis.Client
	config   *EmbeddingCacheConfig
}

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)

// NewCachedEmbeddingProvider creates a caching wrapper around provider.
func NewCachedEmbeddingProvider(provider EmbeddingProvider, redis *goredis.Client, config *EmbeddingCacheConfig) *CachedEmbeddingProvider {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	return &CachedEmbeddingProvider{
		provider: provider,
		redis:    redis,
		config:   config,
	}
}

func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

// EmbedSingle generates an embedding for one text, consulting the
// cache first.
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if !c.config.Enabled || c.redis == nil {
		return c.provider.EmbedSingle(ctx, text)
	}

	key := c.cacheKey(text)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var embedding []float32
		if err := json.Unmarshal(data, &embedding); err == nil {
			return embedding, nil
		}
		// Corrupt entry, drop it and recompute.
		logger.Warnw("deleting corrupt cached embedding", "key", key)
		_ = c.redis.Del(ctx, key).Err()
	} else if err != goredis.Nil {
		logger.Warnw("embedding cache read failed, falling back to provider", "error", err.Error())
	}

	embedding, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, embedding)
	return embedding, nil
}

// Embed generates embeddings for multiple texts, serving cached
// entries and batching the rest into one provider call.
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.config.Enabled || c.redis == nil {
		return c.provider.Embed(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	var missedIdx []int
	var missedTexts []string

	for i, text := range texts {
		key := c.cacheKey(text)
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var embedding []float32
			if err := json.Unmarshal(data, &embedding); err == nil {
				embeddings[i] = embedding
				continue
			}
			_ = c.redis.Del(ctx, key).Err()
		}
		missedIdx = append(missedIdx, i)
		missedTexts = append(missedTexts, text)
	}

	if len(missedTexts) > 0 {
		computed, err := c.provider.Embed(ctx, missedTexts)
		if err != nil {
			return nil, err
		}
		for i, idx := range missedIdx {
			embeddings[idx] = computed[i]
			c.store(ctx, c.cacheKey(missedTexts[i]), computed[i])
		}
	}

	return embeddings, nil
}

func (c *CachedEmbeddingProvider) store(ctx context.Context, key string, embedding []float32) {
	data, err := json.Marshal(embedding)
	if err != nil {
		logger.Warnw("failed to marshal embedding for caching", "error", err.Error())
		return
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to cache embedding", "error", err.Error(), "key", key)
	}
}

// Name returns the underlying provider name with a cache suffix.
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name() + "-cached"
}

// ClearCache removes all cached embeddings.
func (c *CachedEmbeddingProvider) ClearCache(ctx context.Context) error {
	if !c.config.Enabled || c.redis == nil {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return err
	}

	logger.Infow("cleared embedding cache", "deleted", deleted)
	return nil
}
