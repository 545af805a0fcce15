package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler moves record formatting off the caller's goroutine. Records
// below Error are dropped when the buffer is full; Error records wait for room
// so failures are never lost.
type AsyncHandler struct {
	inner  slog.Handler
	shared *asyncShared
}

type asyncShared struct {
	ch      chan queued
	wg      sync.WaitGroup
	dropped atomic.Int64
	mu      sync.RWMutex // guards closed and sends on ch
	closed  bool
}

type queued struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler creates an AsyncHandler with the given buffer size and drain worker count.
func NewAsyncHandler(inner slog.Handler, bufSize, workers int) *AsyncHandler {
	s := &asyncShared{ch: make(chan queued, bufSize)}
	for range max(workers, 1) {
		s.wg.Add(1)
		go s.drain()
	}
	return &AsyncHandler{inner: inner, shared: s}
}

func (s *asyncShared) drain() {
	defer s.wg.Done()
	for q := range s.ch {
		_ = q.h.Handle(context.Background(), q.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record for the drain workers.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.shared.mu.RLock()
	defer h.shared.mu.RUnlock()
	if h.shared.closed {
		return h.inner.Handle(ctx, rec)
	}
	q := queued{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelError {
		select {
		case h.shared.ch <- q:
		case <-ctx.Done():
			h.shared.dropped.Add(1)
		}
		return nil
	}
	select {
	case h.shared.ch <- q:
	default:
		h.shared.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler that shares the queue but formats with extra attributes.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), shared: h.shared}
}

// WithGroup returns a handler that shares the queue but formats under a group.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), shared: h.shared}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.shared.dropped.Load()
}

// Close drains queued records and stops the workers. Records logged after
// Close are written synchronously.
func (h *AsyncHandler) Close() {
	h.shared.mu.Lock()
	if h.shared.closed {
		h.shared.mu.Unlock()
		return
	}
	h.shared.closed = true
	close(h.shared.ch)
	h.shared.mu.Unlock()
	h.shared.wg.Wait()
}
