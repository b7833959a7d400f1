package embedding

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// cacheEntry represents a cached vector.
type cacheEntry struct {
	expiry time.Time
	vector []float32
}

// CachedEmbedder memoizes vectors by text for a fixed TTL so that repeated
// queries within a batch do not hit the embedding service again.
type CachedEmbedder struct {
	next    Embedder
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

// NewCachedEmbedder wraps next with a TTL cache.
func NewCachedEmbedder(next Embedder, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	cache := &CachedEmbedder{
		next:    next,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Version implements Embedder.
func (c *CachedEmbedder) Version() string {
	return c.next.Version()
}

// Embed implements Embedder. Only texts missing from the cache are sent to
// the wrapped embedder, in a single call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)

	now := time.Now()
	c.mu.RLock()
	for i, text := range texts {
		if entry, ok := c.entries[text]; ok && now.Before(entry.expiry) {
			out[i] = entry.vector
			continue
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}

	c.mu.Lock()
	expiry := time.Now().Add(c.ttl)
	for j, vec := range vecs {
		out[slots[j]] = vec
		c.entries[missing[j]] = cacheEntry{vector: vec, expiry: expiry}
	}
	c.mu.Unlock()

	return out, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup periodically removes expired entries.
func (c *CachedEmbedder) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine and closes the wrapped embedder when it
// holds resources.
func (c *CachedEmbedder) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	if closer, ok := c.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
