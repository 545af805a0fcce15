package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
)

const casAttempts = 3

// Holder keeps memory replicas in a KV bucket. Writes use the bucket
// revision as a compare-and-set guard so an older version never replaces a
// newer one.
type Holder struct {
	id string
	kv jetstream.KeyValue
}

// NewHolder creates a replica holder on kv.
func NewHolder(id string, kv jetstream.KeyValue) *Holder {
	return &Holder{id: id, kv: kv}
}

// ID implements replica.Holder.
func (h *Holder) ID() string { return h.id }

// Put implements replica.Holder.
func (h *Holder) Put(ctx context.Context, e *knowledge.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal replica %s: %w", e.Ref(), err)
	}
	key := encodeKey(e.Ref())

	for range casAttempts {
		cur, err := h.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			if _, err = h.kv.Create(ctx, key, data); err == nil {
				return nil
			}
			if !errors.Is(err, jetstream.ErrKeyExists) {
				return fmt.Errorf("create replica %s on %s: %w", e.Ref(), h.id, err)
			}
		case err != nil:
			return fmt.Errorf("get replica %s on %s: %w", e.Ref(), h.id, err)
		default:
			var held knowledge.Entry
			if json.Unmarshal(cur.Value(), &held) == nil && held.Version > e.Version {
				return nil
			}
			if _, err = h.kv.Update(ctx, key, data, cur.Revision()); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("put replica %s on %s: concurrent writers", e.Ref(), h.id)
}

// Get implements replica.Holder.
func (h *Holder) Get(ctx context.Context, ref string) (*knowledge.Entry, error) {
	cur, err := h.kv.Get(ctx, encodeKey(ref))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get replica %s on %s: %w", ref, h.id, err)
	}
	var e knowledge.Entry
	if err := json.Unmarshal(cur.Value(), &e); err != nil {
		return nil, fmt.Errorf("unmarshal replica %s: %w", ref, err)
	}
	return &e, nil
}

// Delete implements replica.Holder.
func (h *Holder) Delete(ctx context.Context, ref string) error {
	err := h.kv.Delete(ctx, encodeKey(ref))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete replica %s on %s: %w", ref, h.id, err)
	}
	return nil
}
