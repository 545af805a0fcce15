package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/swarmcore/internal/domain/message"
	"github.com/Strob0t/swarmcore/internal/logger"
	"github.com/Strob0t/swarmcore/internal/port/messagequeue"
)

const testPrefix = "swarmtest"

// liveQueue connects to the server at NATS_URL or skips.
func liveQueue(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	q, err := Connect(context.Background(), url, "SWARM_TEST", testPrefix)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

type delivery struct {
	ctx  context.Context
	data []byte
}

// subscribeChan routes deliveries on subject into a buffered channel. Handler
// errors come from fail.
func subscribeChan(t *testing.T, q *Queue, subject string, fail error) <-chan delivery {
	t.Helper()
	ch := make(chan delivery, 16)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, data []byte) error {
		select {
		case ch <- delivery{ctx: ctx, data: data}:
		default:
		}
		return fail
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	t.Cleanup(stop)
	return ch
}

// watchDLQ reads subject.dlq with a raw consumer so dead letters bypass
// validation.
func watchDLQ(t *testing.T, q *Queue, subject string) <-chan jetstream.Msg {
	t.Helper()
	cons, err := q.js.CreateOrUpdateConsumer(context.Background(), q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject + ".dlq",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("dlq consumer: %v", err)
	}
	ch := make(chan jetstream.Msg, 4)
	cc, err := cons.Consume(func(m jetstream.Msg) {
		_ = m.Ack()
		select {
		case ch <- m:
		default:
		}
	})
	if err != nil {
		t.Fatalf("dlq consume: %v", err)
	}
	t.Cleanup(cc.Stop)
	return ch
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestQueue_DeliversWithCorrelationID(t *testing.T) {
	q := liveQueue(t)
	subject := messagequeue.Join(testPrefix, "scratch", t.Name())
	got := subscribeChan(t, q, subject, nil)

	ctx := logger.WithCorrelationID(context.Background(), "corr-7")
	if err := q.Publish(ctx, subject, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d := receive(t, got, "delivery")
	if string(d.data) != `{"n":1}` {
		t.Errorf("data = %s", d.data)
	}
	if id := logger.CorrelationID(d.ctx); id != "corr-7" {
		t.Errorf("correlation id = %q, want corr-7", id)
	}
}

func TestQueue_InvalidHeartbeatDeadLettered(t *testing.T) {
	q := liveQueue(t)
	subject := messagequeue.Join(testPrefix, messagequeue.SubjectHeartbeat)
	dlq := watchDLQ(t, q, subject)
	handled := subscribeChan(t, q, subject, nil)

	// Valid JSON, but a heartbeat without an agent id fails the schema.
	if err := q.Publish(context.Background(), subject, []byte(`{"status":"idle"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m := receive(t, dlq, "dead letter")
	if m.Headers().Get("X-DLQ-Reason") == "" {
		t.Error("dead letter should carry a reason")
	}
	select {
	case d := <-handled:
		if string(d.data) == `{"status":"idle"}` {
			t.Error("invalid heartbeat reached the handler")
		}
	default:
	}
}

func TestQueue_RetryExhaustionDeadLettered(t *testing.T) {
	q := liveQueue(t)
	subject := messagequeue.Join(testPrefix, "scratch", t.Name())
	dlq := watchDLQ(t, q, subject)
	subscribeChan(t, q, subject, errHandler)

	msg := &nats.Msg{Subject: subject, Data: []byte(`{"exhausted":true}`), Header: nats.Header{}}
	msg.Header.Set(headerRetryCount, "3")
	if _, err := q.js.PublishMsg(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m := receive(t, dlq, "dead letter after retries")
	if string(m.Data()) != `{"exhausted":true}` {
		t.Errorf("dead letter data = %s", m.Data())
	}
}

func TestQueue_KeyValueReusesBucket(t *testing.T) {
	q := liveQueue(t)
	ctx := context.Background()
	bucket := "SWARM_TEST_KV"

	first, err := q.KeyValue(ctx, bucket, time.Minute)
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if _, err := first.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := q.KeyValue(ctx, bucket, time.Minute)
	if err != nil {
		t.Fatalf("reopen bucket: %v", err)
	}
	e, err := second.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get through reopened bucket: %v", err)
	}
	if string(e.Value()) != "v" {
		t.Errorf("value = %q, want v", e.Value())
	}
	_ = second.Delete(ctx, "k")
}

func TestBridge_AcrossNodes(t *testing.T) {
	q := liveQueue(t)
	ctx := context.Background()
	localBus, remoteBus := &recordingBus{}, &recordingBus{}
	local := NewBridge(q, testPrefix, "node-a", localBus)
	remote := NewBridge(q, testPrefix, "node-b", remoteBus)
	for _, b := range []*Bridge{local, remote} {
		if err := b.Start(ctx); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(b.Stop)
	}

	payload, _ := json.Marshal(message.KnowledgeShare{Key: "plans/" + t.Name(), Value: "v1"})
	err := local.Forward(ctx, &message.Message{
		ID:        "ks-" + t.Name(),
		Channel:   message.ChannelKnowledge,
		Type:      message.TypeKnowledgeShare,
		From:      "w1",
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		remoteBus.mu.Lock()
		n := len(remoteBus.got)
		remoteBus.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	remoteBus.mu.Lock()
	defer remoteBus.mu.Unlock()
	if len(remoteBus.got) == 0 || remoteBus.got[0].ID != "ks-"+t.Name() {
		t.Fatalf("remote bus did not receive the envelope: %+v", remoteBus.got)
	}
	localBus.mu.Lock()
	defer localBus.mu.Unlock()
	for _, m := range localBus.got {
		if m.ID == "ks-"+t.Name() {
			t.Fatal("bridge injected its own envelope")
		}
	}
}

func TestQueue_IsConnected(t *testing.T) {
	if q := liveQueue(t); !q.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

var errHandler = handlerError("handler always fails")

type handlerError string

func (e handlerError) Error() string { return string(e) }
