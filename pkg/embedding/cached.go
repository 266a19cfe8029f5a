package embedding

import (
	"context"

	"github.com/docsage/docsage/pkg/cache"
	"github.com/docsage/docsage/pkg/types"
)

// CachedProvider wraps a Provider with an LRU+TTL cache for query
// embeddings. Passage embeddings are never cached: ingest traffic is
// write-once and would only evict useful query entries.
type CachedProvider struct {
	provider Provider
	cache    *cache.MemoryCache
}

// NewCachedProvider creates a cached embedding provider.
func NewCachedProvider(provider Provider, cfg cache.Config) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    cache.NewMemoryCache(cfg),
	}
}

// Embed returns a cached query embedding or computes and caches it.
func (c *CachedProvider) Embed(ctx context.Context, text string, isQuery bool) (types.HybridVector, error) {
	if !isQuery {
		return c.provider.Embed(ctx, text, isQuery)
	}

	if cached, err := c.cache.Get(ctx, text); err == nil {
		// Return a copy to prevent mutation
		return cached.Clone(), nil
	}

	vector, err := c.provider.Embed(ctx, text, isQuery)
	if err != nil {
		return types.HybridVector{}, err
	}

	_ = c.cache.Set(ctx, text, vector.Clone(), 0)
	return vector, nil
}

// EmbedBatch embeds multiple texts, bypassing the cache.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([]types.HybridVector, error) {
	return c.provider.EmbedBatch(ctx, texts, isQuery)
}

// Dimension returns the dense embedding dimension.
func (c *CachedProvider) Dimension() int {
	return c.provider.Dimension()
}

// Stats returns cache statistics.
func (c *CachedProvider) Stats() cache.Stats {
	return c.cache.Stats()
}

// Close releases cache resources.
func (c *CachedProvider) Close() error {
	return c.cache.Close()
}
