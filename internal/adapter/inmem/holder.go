// Package inmem provides in-process replica holders and an event log for
// single-node deployments without external storage.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
)

// ErrHolderDown is returned by a holder that has been failed.
var ErrHolderDown = errors.New("replica holder unavailable")

// Holder keeps replicas in a map. It keeps the highest version it has seen
// per ref so out-of-order replication never regresses a replica.
type Holder struct {
	id string

	mu      sync.RWMutex
	entries map[string]*knowledge.Entry
	down    bool
}

// NewHolder creates an empty holder.
func NewHolder(id string) *Holder {
	return &Holder{id: id, entries: make(map[string]*knowledge.Entry)}
}

// ID implements replica.Holder.
func (h *Holder) ID() string { return h.id }

// Put implements replica.Holder.
func (h *Holder) Put(_ context.Context, e *knowledge.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return fmt.Errorf("put %s on %s: %w", e.Ref(), h.id, ErrHolderDown)
	}
	ref := e.Ref()
	if cur, ok := h.entries[ref]; ok && cur.Version > e.Version {
		return nil
	}
	h.entries[ref] = e.Clone()
	return nil
}

// Get implements replica.Holder.
func (h *Holder) Get(_ context.Context, ref string) (*knowledge.Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.down {
		return nil, fmt.Errorf("get %s on %s: %w", ref, h.id, ErrHolderDown)
	}
	e, ok := h.entries[ref]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

// Delete implements replica.Holder.
func (h *Holder) Delete(_ context.Context, ref string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return fmt.Errorf("delete %s on %s: %w", ref, h.id, ErrHolderDown)
	}
	delete(h.entries, ref)
	return nil
}

// Fail makes every call return ErrHolderDown until Recover.
func (h *Holder) Fail() {
	h.mu.Lock()
	h.down = true
	h.mu.Unlock()
}

// Recover brings a failed holder back with its replicas intact.
func (h *Holder) Recover() {
	h.mu.Lock()
	h.down = false
	h.mu.Unlock()
}

// Len returns the number of replicas held.
func (h *Holder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
