package embedding

import (
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is an LRU cache for text embeddings keyed by text.
// Values are copied in and out so callers may mutate what they get.
type EmbeddingCache struct {
	cache *lru.Cache[string, []float32]
}

// NewEmbeddingCache creates a new cache with the given capacity. A capacity
// <= 0 returns nil, which behaves as a cache that never hits.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		return nil
	}
	c, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil
	}
	return &EmbeddingCache{cache: c}
}

// Get returns a copy of the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Set stores a copy of the embedding for key, evicting the oldest entry if at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	if c == nil {
		return
	}
	c.cache.Add(key, slices.Clone(value))
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
