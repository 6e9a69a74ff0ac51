package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is how many embeddings the LRU cache retains. At ~3KB
// per 768-dim vector this stays under 10MB.
const DefaultCacheSize = 2048

// CachedClient wraps a Client with an LRU cache keyed by content hash.
// Re-indexing an unchanged tree hits the cache instead of the network.
type CachedClient struct {
	inner Client
	cache *lru.Cache[string, *Embedding]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient wraps inner with an LRU of the given size. Size <= 0
// falls back to DefaultCacheSize.
func NewCachedClient(inner Client, size int) (*CachedClient, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Embedding](size)
	if err != nil {
		return nil, err
	}
	return &CachedClient{inner: inner, cache: cache}, nil
}

func cacheKey(kind, content string) string {
	sum := sha256.Sum256([]byte(content))
	return kind + ":" + hex.EncodeToString(sum[:])
}

// EmbedText returns a cached embedding when the exact text was embedded
// before, otherwise delegates to the inner client.
func (c *CachedClient) EmbedText(ctx context.Context, text string) (*Embedding, error) {
	key := cacheKey("text", text)
	if emb, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return emb, nil
	}
	c.misses.Add(1)

	emb, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, emb)
	return emb, nil
}

// EmbedImage caches by the image data URL, which already encodes the bytes.
func (c *CachedClient) EmbedImage(ctx context.Context, dataURL string) (*Embedding, error) {
	key := cacheKey("image", dataURL)
	if emb, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return emb, nil
	}
	c.misses.Add(1)

	emb, err := c.inner.EmbedImage(ctx, dataURL)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, emb)
	return emb, nil
}

// Dimensions returns the inner client's embedding dimension.
func (c *CachedClient) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the inner client's model identifier.
func (c *CachedClient) ModelName() string {
	return c.inner.ModelName()
}

// Stats reports cache hit and miss counts.
func (c *CachedClient) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes the inner client.
func (c *CachedClient) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
