// Package eventstore defines the port interface for the append-only event log.
package eventstore

import (
	"context"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

// Store is the port interface for appending and loading observability events.
type Store interface {
	// Append persists a new event.
	Append(ctx context.Context, ev *event.Event) error

	// LoadByTask returns all events for the given task, oldest first.
	LoadByTask(ctx context.Context, taskID string) ([]event.Event, error)

	// Recent returns events matching the filter, newest first.
	Recent(ctx context.Context, f event.Filter) ([]event.Event, error)
}
