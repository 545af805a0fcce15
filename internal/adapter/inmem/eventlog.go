package inmem

import (
	"context"
	"slices"
	"sync"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

const defaultRecentLimit = 100

// EventLog is a bounded eventstore.Store. Once full, the oldest event is
// dropped for each new one.
type EventLog struct {
	mu     sync.RWMutex
	events []event.Event
	max    int
}

// NewEventLog creates a log retaining at most max events (10000 when max <= 0).
func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = 10000
	}
	return &EventLog{max: max}
}

// Append implements eventstore.Store.
func (l *EventLog) Append(_ context.Context, ev *event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) >= l.max {
		l.events = slices.Delete(l.events, 0, len(l.events)-l.max+1)
	}
	l.events = append(l.events, *ev)
	return nil
}

// LoadByTask implements eventstore.Store. Events come back oldest first.
func (l *EventLog) LoadByTask(_ context.Context, taskID string) ([]event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []event.Event
	for i := range l.events {
		if l.events[i].TaskID == taskID {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}

// Recent implements eventstore.Store. Events come back newest first.
func (l *EventLog) Recent(_ context.Context, f event.Filter) ([]event.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []event.Event
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := l.events[i]
		if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
			continue
		}
		if f.After != nil && !ev.CreatedAt.After(*f.After) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
