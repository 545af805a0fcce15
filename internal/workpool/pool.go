// Package workpool bounds the number of concurrent calls to slow
// collaborators such as the agent runtime.
package workpool

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent work using a weighted semaphore.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New creates a Pool that allows at most limit concurrent jobs.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	if p == nil || p.sem == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Go runs fn on its own goroutine once a slot is free and returns
// immediately. Errors are passed to onErr when it is non-nil, otherwise
// logged. The job runs detached from ctx cancellation once it has started.
func (p *Pool) Go(ctx context.Context, name string, fn func(context.Context) error, onErr func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.Run(ctx, func(ctx context.Context) error {
			return fn(context.WithoutCancel(ctx))
		})
		if err == nil {
			return
		}
		if onErr != nil {
			onErr(err)
			return
		}
		slog.Warn("pool job failed", "job", name, "error", err)
	}()
}

// Wait blocks until every job started with Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
