// Package ristretto implements the cache port on dgraph-io/ristretto as the
// in-process L1 hydration cache.
package ristretto

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const bytesPerMB = 1 << 20

// Cache wraps a ristretto cache. Values are copied in and out so callers
// may reuse their buffers.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxSizeMB of values and keys.
func New(maxSizeMB int64) (*Cache, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 64
	}
	maxCost := maxSizeMB * bytesPerMB
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Roughly ten counters per expected 1KiB entry.
		NumCounters: maxCost / 1024 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get implements cache.Cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return slices.Clone(val), true, nil
}

// Set implements cache.Cache. Writes are applied asynchronously; Wait
// blocks until they are visible.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, slices.Clone(value), int64(len(key)+len(value)), ttl)
	return nil
}

// Delete implements cache.Cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Wait blocks until buffered writes have been applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
