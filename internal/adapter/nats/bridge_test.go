package nats

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/swarmcore/internal/domain/message"
	"github.com/Strob0t/swarmcore/internal/domain/task"
	"github.com/Strob0t/swarmcore/internal/port/messagequeue"
)

// loopQueue is an in-memory messagequeue.Queue that delivers synchronously
// to subscribers whose pattern matches the subject.
type loopQueue struct {
	mu        sync.Mutex
	published []string
	data      [][]byte
	subs      map[string]messagequeue.Handler
}

func newLoopQueue() *loopQueue {
	return &loopQueue{subs: make(map[string]messagequeue.Handler)}
}

func (q *loopQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	q.published = append(q.published, subject)
	q.data = append(q.data, data)
	var handlers []messagequeue.Handler
	for pattern, h := range q.subs {
		if matches(pattern, subject) {
			handlers = append(handlers, h)
		}
	}
	q.mu.Unlock()
	for _, h := range handlers {
		if err := h(ctx, subject, data); err != nil {
			return err
		}
	}
	return nil
}

func (q *loopQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.subs, subject)
		q.mu.Unlock()
	}, nil
}

func (q *loopQueue) Drain() error      { return nil }
func (q *loopQueue) Close() error      { return nil }
func (q *loopQueue) IsConnected() bool { return true }

// matches implements the NATS "*" token wildcard.
func matches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	if len(p) != len(s) {
		return false
	}
	for i := range p {
		if p[i] != "*" && p[i] != s[i] {
			return false
		}
	}
	return true
}

type recordingBus struct {
	mu  sync.Mutex
	got []*message.Message
}

func (b *recordingBus) Inject(_ context.Context, m *message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, m)
	return nil
}

func TestBridge_ForwardAndInject(t *testing.T) {
	q := newLoopQueue()
	localBus := &recordingBus{}
	remoteBus := &recordingBus{}
	local := NewBridge(q, "swarm", "node-a", localBus)
	remote := NewBridge(q, "swarm", "node-b", remoteBus)
	ctx := context.Background()
	if err := local.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := remote.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer local.Stop()
	defer remote.Stop()

	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &message.Message{
		ID:        "m1",
		Channel:   message.ChannelConsensus,
		Type:      message.TypeVoteResponse,
		From:      "w1",
		Payload:   message.Encode(message.VoteResponse{ProposalID: "p1", Choice: "approve", Confidence: 0.9}),
		Timestamp: sent,
	}
	if err := local.Forward(ctx, m); err != nil {
		t.Fatal(err)
	}

	if want := "swarm.bus.consensus.vote_response"; len(q.published) != 1 || q.published[0] != want {
		t.Fatalf("published = %v, want [%s]", q.published, want)
	}
	if len(localBus.got) != 0 {
		t.Fatalf("origin bridge injected its own message: %+v", localBus.got)
	}
	if len(remoteBus.got) != 1 {
		t.Fatalf("remote injected %d messages, want 1", len(remoteBus.got))
	}
	got := remoteBus.got[0]
	if got.ID != "m1" || got.From != "w1" || got.Type != message.TypeVoteResponse || !got.Timestamp.Equal(sent) {
		t.Fatalf("unexpected injected message %+v", got)
	}
	var v message.VoteResponse
	if err := got.Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.ProposalID != "p1" || v.Confidence != 0.9 {
		t.Fatalf("payload = %+v", v)
	}
}

func TestBridge_HeartbeatBecomesStatusUpdate(t *testing.T) {
	q := newLoopQueue()
	bus := &recordingBus{}
	b := NewBridge(q, "swarm", "node-a", bus)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	data, _ := json.Marshal(messagequeue.HeartbeatPayload{AgentID: "w1", Status: "busy", Workload: 0.4, PhaseID: "ph1"})
	if err := q.Publish(context.Background(), "swarm.agents.heartbeat", data); err != nil {
		t.Fatal(err)
	}
	if len(bus.got) != 1 {
		t.Fatalf("injected %d messages, want 1", len(bus.got))
	}
	m := bus.got[0]
	if m.Type != message.TypeStatusUpdate || m.From != "w1" {
		t.Fatalf("unexpected message %+v", m)
	}
	var su message.StatusUpdate
	if err := m.Decode(&su); err != nil {
		t.Fatal(err)
	}
	if su.AgentID != "w1" || su.Status != "busy" || su.Workload != 0.4 || su.PhaseID != "ph1" {
		t.Fatalf("status update = %+v", su)
	}
}

func TestBridge_StopUnsubscribes(t *testing.T) {
	q := newLoopQueue()
	b := NewBridge(q, "swarm", "node-a", &recordingBus{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	b.Stop()
	if len(q.subs) != 0 {
		t.Fatalf("subscriptions left after Stop: %v", q.subs)
	}
}

func TestRuntime_PublishesAssignments(t *testing.T) {
	q := newLoopQueue()
	rt := NewRuntime(q, "swarm")
	ctx := context.Background()
	p := &task.Phase{ID: "ph1", TaskID: "t1", Name: "design", RequiredCapabilities: []string{"architecture"}, Weight: 0.3}

	if err := rt.AssignPhase(ctx, "w1", p); err != nil {
		t.Fatal(err)
	}
	if err := rt.CancelPhase(ctx, "w1", "ph1"); err != nil {
		t.Fatal(err)
	}

	want := []string{"swarm.runtime.assign.w1", "swarm.runtime.cancel.w1"}
	if len(q.published) != 2 || q.published[0] != want[0] || q.published[1] != want[1] {
		t.Fatalf("published = %v, want %v", q.published, want)
	}
	for i, subject := range q.published {
		if err := messagequeue.Validate("swarm", subject, q.data[i]); err != nil {
			t.Fatalf("%s: %v", subject, err)
		}
	}
	var ap messagequeue.AssignPhasePayload
	if err := json.Unmarshal(q.data[0], &ap); err != nil {
		t.Fatal(err)
	}
	if ap.AgentID != "w1" || ap.PhaseID != "ph1" || ap.TaskID != "t1" || ap.Weight != 0.3 {
		t.Fatalf("assignment = %+v", ap)
	}
}
