package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/port/broadcast"
	"github.com/Strob0t/swarmcore/internal/port/eventstore"
)

// EventRecorder appends structured events to the event log and pushes them
// to the external monitor. Either sink may be nil.
type EventRecorder struct {
	hub   broadcast.Broadcaster
	store eventstore.Store
	now   func() time.Time
}

// NewEventRecorder creates an EventRecorder.
func NewEventRecorder(hub broadcast.Broadcaster, store eventstore.Store) *EventRecorder {
	return &EventRecorder{hub: hub, store: store, now: time.Now}
}

// Emit records ev with payload marshalled into it. A nil recorder discards.
func (r *EventRecorder) Emit(ctx context.Context, ev event.Event, payload any) {
	if r == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.CreatedAt = r.now()
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			slog.Warn("marshal event payload", "type", ev.Type, "error", err)
		} else {
			ev.Payload = b
		}
	}
	if r.store != nil {
		if err := r.store.Append(ctx, &ev); err != nil {
			slog.Warn("append event", "type", ev.Type, "error", err)
		}
	}
	if r.hub != nil {
		r.hub.BroadcastEvent(ctx, ev)
	}
}
