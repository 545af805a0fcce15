package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

func TestNewHub(t *testing.T) {
	hub := NewHub("")
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub("")

	// Broadcast with no connections should not panic.
	hub.BroadcastEvent(context.Background(), event.Event{Type: event.TypeTaskCompleted, TaskID: "t1"})
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub("")

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func TestParseTypes(t *testing.T) {
	got := parseTypes("phase_failed, task_failed,,")
	if len(got) != 2 || !got["phase_failed"] || !got["task_failed"] {
		t.Fatalf("parseTypes = %v", got)
	}
	if parseTypes("") != nil {
		t.Fatal("empty filter should accept everything")
	}
}

func TestHubFullQueueDrops(t *testing.T) {
	hub := NewHub("")
	c := &conn{send: make(chan []byte, 1), cancel: func() {}}
	hub.conns[c] = struct{}{}

	for range 3 {
		hub.BroadcastEvent(context.Background(), event.Event{Type: event.TypePhaseAssigned})
	}
	if got := hub.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", hub.ConnectionCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubStreamsFilteredEvents(t *testing.T) {
	hub := NewHub("")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dial(t, srv, "")
	failures := dial(t, srv, "?types=task_failed")
	waitConnections(t, hub, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub.BroadcastEvent(ctx, event.Event{ID: "e1", Type: event.TypeTaskCompleted, TaskID: "t1"})
	hub.BroadcastEvent(ctx, event.Event{ID: "e2", Type: event.TypeTaskFailed, TaskID: "t2"})

	read := func(c *websocket.Conn) Message {
		t.Helper()
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	if m := read(all); m.Type != "task_completed" {
		t.Fatalf("first message type = %s", m.Type)
	}
	if m := read(all); m.Type != "task_failed" {
		t.Fatalf("second message type = %s", m.Type)
	}
	m := read(failures)
	if m.Type != "task_failed" {
		t.Fatalf("filtered client got %s", m.Type)
	}
	var ev event.Event
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID != "e2" || ev.TaskID != "t2" {
		t.Fatalf("payload = %+v", ev)
	}
}
