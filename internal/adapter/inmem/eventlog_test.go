package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

func TestEventLog_LoadByTask(t *testing.T) {
	l := NewEventLog(0)
	ctx := context.Background()
	_ = l.Append(ctx, &event.Event{ID: "1", Type: event.TypePhaseAssigned, TaskID: "t1"})
	_ = l.Append(ctx, &event.Event{ID: "2", Type: event.TypePhaseAssigned, TaskID: "t2"})
	_ = l.Append(ctx, &event.Event{ID: "3", Type: event.TypeTaskCancelled, TaskID: "t1"})

	got, err := l.LoadByTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("expected events 1 and 3 in order, got %+v", got)
	}
}

func TestEventLog_RecentFilters(t *testing.T) {
	l := NewEventLog(0)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []event.Type{event.TypePhaseAssigned, event.TypeMemoryConflict, event.TypePhaseAssigned, event.TypeTaskCancelled} {
		_ = l.Append(ctx, &event.Event{ID: string(rune('a' + i)), Type: typ, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	tests := []struct {
		name   string
		filter event.Filter
		want   []string
	}{
		{"all newest first", event.Filter{}, []string{"d", "c", "b", "a"}},
		{"by type", event.Filter{Types: []event.Type{event.TypePhaseAssigned}}, []string{"c", "a"}},
		{"after", event.Filter{After: &base}, []string{"d", "c", "b"}},
		{"limit", event.Filter{Limit: 1}, []string{"d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Recent(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d events, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Fatalf("position %d: expected %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
		})
	}
}

func TestEventLog_Bounded(t *testing.T) {
	l := NewEventLog(3)
	ctx := context.Background()
	for i := range 5 {
		_ = l.Append(ctx, &event.Event{ID: string(rune('a' + i)), Type: event.TypePhaseAssigned})
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 retained events, got %d", l.Len())
	}
	got, _ := l.Recent(ctx, event.Filter{})
	if got[len(got)-1].ID != "c" {
		t.Fatalf("oldest retained should be c, got %s", got[len(got)-1].ID)
	}
}
