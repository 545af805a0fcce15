package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/swarmcore/internal/adapter/inmem"
	swarmnats "github.com/Strob0t/swarmcore/internal/adapter/nats"
	"github.com/Strob0t/swarmcore/internal/adapter/natskv"
	"github.com/Strob0t/swarmcore/internal/adapter/ristretto"
	"github.com/Strob0t/swarmcore/internal/adapter/tiered"
	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/port/cache"
	"github.com/Strob0t/swarmcore/internal/port/replica"
	"github.com/Strob0t/swarmcore/internal/resilience"
	"github.com/Strob0t/swarmcore/internal/service"
)

// attachHolders gives memory its replica holders: one NATS KV bucket per
// holder when a queue is available, in-process maps otherwise.
func attachHolders(ctx context.Context, memory *service.MemoryService, queue *swarmnats.Queue, cfg *config.Config) error {
	for i := range cfg.Memory.Holders {
		id := fmt.Sprintf("holder-%d", i+1)
		var h replica.Holder
		if queue != nil {
			bucket := fmt.Sprintf("%s_%d", cfg.NATS.ReplicaBucket, i+1)
			kv, err := queue.KeyValue(ctx, bucket, 0)
			if err != nil {
				return fmt.Errorf("replica holder %s: %w", id, err)
			}
			h = natskv.NewHolder(id, kv)
		} else {
			h = inmem.NewHolder(id)
		}
		memory.AddHolder(h, resilience.NewBreaker(id, cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	}
	slog.Info("replica holders attached", "count", cfg.Memory.Holders, "remote", queue != nil)
	return nil
}

// hydrationCache builds the cache consulted on a local memory miss: ristretto
// alone, or ristretto in front of a NATS KV bucket.
func hydrationCache(ctx context.Context, queue *swarmnats.Queue, cfg config.Cache) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}
	if queue == nil {
		return l1, l1.Close, nil
	}
	kv, err := queue.KeyValue(ctx, cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("l2 cache: %w", err)
	}
	return tiered.New(l1, natskv.New(kv), cfg.L1TTL), l1.Close, nil
}
