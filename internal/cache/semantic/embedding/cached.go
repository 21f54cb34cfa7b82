package embedding

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedEmbedder decorates an Embedder with an in-memory TTL cache keyed by exact text.
// Repeated questions skip the embedding API entirely.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.Cache
}

// NewCachedEmbedder creates a new cached embedder.
func NewCachedEmbedder(inner Embedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: cache.New(ttl, ttl*2),
	}
}

func (c *CachedEmbedder) key(text string) string {
	return c.inner.Model() + "\x00" + text
}

// Embed returns the cached vector or delegates to the inner embedder.
// Callers must not modify the returned slice.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if val, found := c.cache.Get(c.key(text)); found {
		if vec, ok := val.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(c.key(text), vec, cache.DefaultExpiration)
	return vec, nil
}

// EmbedBatch embeds only the texts missing from the cache.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, text := range texts {
		if val, found := c.cache.Get(c.key(text)); found {
			if vec, ok := val.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		if j >= len(slots) {
			break
		}
		out[slots[j]] = vec
		c.cache.Set(c.key(missing[j]), vec, cache.DefaultExpiration)
	}
	return out, nil
}

// Model implements Embedder.
func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// Dimension implements Embedder.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.ItemCount() }

var _ Embedder = (*CachedEmbedder)(nil)
