package embeddings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/cache/redis"
	"github.com/researchagent/backend/internal/metrics"
	"github.com/researchagent/backend/pkg/logger"
	"github.com/researchagent/backend/pkg/utils"
)

const embeddingCacheTTL = 24 * time.Hour

// CachedEmbedder wraps an Embedder with a Redis-backed cache keyed on the
// text hash, so repeated queries (the same query searched again, identical
// questions across sessions) skip the adapter call. Cache errors never fail the embed call; they only forgo caching.
type CachedEmbedder struct {
	inner Embedder
	cache *redis.Client
}

func NewCachedEmbedder(inner Embedder, cache *redis.Client) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cache == nil {
		return c.inner.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		hash := utils.HashString(t)
		if vec, ok, err := c.cache.GetEmbedding(ctx, hash); err == nil && ok {
			out[i] = vec
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		out[idx] = fresh[j]
		hash := utils.HashString(texts[idx])
		if err := c.cache.SetEmbedding(ctx, hash, fresh[j], embeddingCacheTTL); err != nil {
			logger.Warn("failed to cache embedding", zap.Error(err))
		}
	}

	return out, nil
}
