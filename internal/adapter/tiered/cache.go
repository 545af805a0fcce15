// Package tiered implements the two-level hydration cache that fronts the
// durable memory store: an in-process L1 backed by a shared L2.
package tiered

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Strob0t/swarmcore/internal/port/cache"
)

// Stats counts lookups by the level that answered them.
type Stats struct {
	L1Hits int64 `json:"l1_hits"`
	L2Hits int64 `json:"l2_hits"`
	Misses int64 `json:"misses"`
	L2Errs int64 `json:"l2_errors"`
}

// Cache combines an L1 and an L2 cache. The L2 is advisory: its failures
// are logged and counted, and lookups fall back to a miss so hydration
// continues from the store.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64
	l2Errs atomic.Int64
}

// New creates a tiered cache. l1Expire caps how long an entry lives in L1,
// both on write and on backfill from L2.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2, backfilling L1 on an L2 hit.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		c.l1Hits.Add(1)
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		c.l2Errs.Add(1)
		slog.Warn("l2 cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false, nil
	}
	if !found {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.l2Hits.Add(1)
	_ = c.l1.Set(ctx, key, val, c.l1Expire)
	return val, true, nil
}

// Set writes to L1 with the capped TTL and to L2 with ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.l1TTL(ttl)); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		c.l2Errs.Add(1)
		slog.Warn("l2 cache set failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes key from both levels. An L2 failure is returned so the
// caller knows a stale copy may survive there.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		c.l2Errs.Add(1)
		return err
	}
	return nil
}

// Stats returns the lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{
		L1Hits: c.l1Hits.Load(),
		L2Hits: c.l2Hits.Load(),
		Misses: c.misses.Load(),
		L2Errs: c.l2Errs.Load(),
	}
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || (c.l1Expire > 0 && ttl > c.l1Expire) {
		return c.l1Expire
	}
	return ttl
}
