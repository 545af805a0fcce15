package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/message"
	"github.com/Strob0t/swarmcore/internal/service"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newBus(t *testing.T, capacity int) *service.BusService {
	t.Helper()
	bus := service.NewBusService(config.Bus{QueueCapacity: capacity, DispatchBuffer: 64})
	t.Cleanup(bus.Close)
	return bus
}

func TestBus_BroadcastSkipsSenderAndUnsubscribed(t *testing.T) {
	bus := newBus(t, 16)
	ctx := context.Background()
	_ = bus.Join("a")
	_ = bus.Join("b")
	_ = bus.Join("c", message.ChannelKnowledge)

	if err := bus.Send(ctx, message.ChannelBroadcast, message.TypeStatusUpdate, "a", "", nil); err != nil {
		t.Fatal(err)
	}

	if bus.Pending("a") != 0 {
		t.Fatal("sender should not receive its own broadcast")
	}
	if bus.Pending("b") != 1 {
		t.Fatalf("expected b to receive 1, got %d", bus.Pending("b"))
	}
	if bus.Pending("c") != 0 {
		t.Fatal("c is not subscribed to broadcast")
	}
}

func TestBus_DirectedMessage(t *testing.T) {
	bus := newBus(t, 16)
	ctx := context.Background()
	_ = bus.Join("a")
	_ = bus.Join("b")
	_ = bus.Join("c")

	_ = bus.Send(ctx, message.ChannelCoordination, message.TypeHelpRequest, "a", "c", message.HelpRequest{PhaseID: "p1"})

	if bus.Pending("b") != 0 || bus.Pending("c") != 1 {
		t.Fatalf("directed message leaked: b=%d c=%d", bus.Pending("b"), bus.Pending("c"))
	}
	m, ok := bus.TryReceive("c")
	if !ok {
		t.Fatal("expected message for c")
	}
	var help message.HelpRequest
	if err := m.Decode(&help); err != nil || help.PhaseID != "p1" {
		t.Fatalf("unexpected payload %+v (%v)", help, err)
	}
}

func TestBus_UrgentFirstThenFIFO(t *testing.T) {
	bus := newBus(t, 16)
	ctx := context.Background()
	_ = bus.Join("rx")

	send := func(typ message.Type, from string) {
		if err := bus.Send(ctx, message.ChannelConsensus, typ, from, "rx", nil); err != nil {
			t.Fatal(err)
		}
	}
	send(message.TypeStatusUpdate, "n1")
	send(message.TypeKnowledgeShare, "n2")
	send(message.TypeVoteRequest, "u1")
	send(message.TypeStatusUpdate, "n3")
	send(message.TypeHelpRequest, "u2")

	want := []string{"u1", "u2", "n1", "n2", "n3"}
	for i, w := range want {
		m, ok := bus.TryReceive("rx")
		if !ok {
			t.Fatalf("queue empty at %d", i)
		}
		if m.From != w {
			t.Fatalf("position %d: got %s, want %s", i, m.From, w)
		}
	}
}

func TestBus_QueueBound(t *testing.T) {
	bus := newBus(t, 2)
	ctx := context.Background()
	_ = bus.Join("rx")

	_ = bus.Send(ctx, message.ChannelBroadcast, message.TypeStatusUpdate, "a", "rx", nil)
	_ = bus.Send(ctx, message.ChannelBroadcast, message.TypeStatusUpdate, "b", "rx", nil)
	_ = bus.Send(ctx, message.ChannelBroadcast, message.TypeStatusUpdate, "c", "rx", nil)
	if bus.Pending("rx") != 2 || bus.Dropped() != 1 {
		t.Fatalf("expected bound of 2 with 1 drop, got pending=%d dropped=%d", bus.Pending("rx"), bus.Dropped())
	}

	_ = bus.Send(ctx, message.ChannelConsensus, message.TypeVoteRequest, "urgent", "rx", nil)
	m, _ := bus.TryReceive("rx")
	if m.From != "urgent" {
		t.Fatalf("urgent message should evict a normal one, got %s first", m.From)
	}
	m, _ = bus.TryReceive("rx")
	if m.From != "a" {
		t.Fatalf("oldest normal message should survive eviction, got %s", m.From)
	}
}

func TestBus_ReceiveBlocks(t *testing.T) {
	bus := newBus(t, 4)
	_ = bus.Join("rx")

	got := make(chan string, 1)
	go func() {
		m, err := bus.Receive(context.Background(), "rx")
		if err == nil {
			got <- m.From
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_ = bus.Send(context.Background(), message.ChannelBroadcast, message.TypeStatusUpdate, "tx", "", nil)

	select {
	case from := <-got:
		if from != "tx" {
			t.Fatalf("unexpected sender %s", from)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not wake up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := bus.Receive(ctx, "rx"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBus_ValidatesChannel(t *testing.T) {
	bus := newBus(t, 4)
	err := bus.Publish(context.Background(), &message.Message{Channel: "gossip", Type: message.TypeStatusUpdate})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := bus.Join("a", "gossip"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error on join, got %v", err)
	}
}

type recordingForwarder struct {
	mu  sync.Mutex
	ids []string
}

func (f *recordingForwarder) Forward(_ context.Context, m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, m.ID)
	return nil
}

func TestBus_RunDispatchesAndForwards(t *testing.T) {
	bus := newBus(t, 4)
	fwd := &recordingForwarder{}
	bus.SetForwarder(fwd)

	var mu sync.Mutex
	var handled []message.Type
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.Run(ctx, service.Routes{
			message.TypeConsensusCheck: func(_ context.Context, m *message.Message) error {
				mu.Lock()
				handled = append(handled, m.Type)
				mu.Unlock()
				return nil
			},
			message.TypeHelpRequest: func(context.Context, *message.Message) error {
				panic("boom")
			},
		})
	}()

	_ = bus.Send(ctx, message.ChannelCoordination, message.TypeHelpRequest, "a", "", nil)
	_ = bus.Send(ctx, message.ChannelConsensus, message.TypeConsensusCheck, "a", "", nil)
	_ = bus.Inject(ctx, &message.Message{Channel: message.ChannelConsensus, Type: message.TypeConsensusCheck, From: "remote"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	})

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	if len(fwd.ids) != 2 {
		t.Fatalf("remote messages must not be forwarded back out, got %d forwards", len(fwd.ids))
	}
}

func TestBus_CloseWakesReceivers(t *testing.T) {
	bus := service.NewBusService(config.Bus{})
	_ = bus.Join("rx")
	done := make(chan error, 1)
	go func() {
		_, err := bus.Receive(context.Background(), "rx")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	bus.Close()
	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected left-the-bus error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not woken by Close")
	}
	if err := bus.Send(context.Background(), message.ChannelBroadcast, message.TypeStatusUpdate, "a", "", nil); !errors.Is(err, service.ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}
