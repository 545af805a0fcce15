// Package broadcast defines the port for publishing observability events to
// external consumers.
package broadcast

import (
	"context"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

// Broadcaster delivers structured events to an external monitor.
// Implementations must not block the caller on slow consumers.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, ev event.Event)
}

// Fanout delivers every event to each of its broadcasters in order.
type Fanout []Broadcaster

// BroadcastEvent implements Broadcaster.
func (f Fanout) BroadcastEvent(ctx context.Context, ev event.Event) {
	for _, b := range f {
		if b != nil {
			b.BroadcastEvent(ctx, ev)
		}
	}
}

// Nop discards events.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, event.Event) {}
