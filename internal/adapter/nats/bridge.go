package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/swarmcore/internal/domain/message"
	"github.com/Strob0t/swarmcore/internal/port/messagequeue"
)

// Injector accepts messages that arrived from another process.
type Injector interface {
	Inject(ctx context.Context, m *message.Message) error
}

// Bridge carries bus envelopes between processes. Outbound messages are
// published on prefix.bus.<channel>.<type>; inbound envelopes from other
// origins are injected into the local bus. Agent heartbeats arriving on
// prefix.agents.heartbeat become status_update messages.
type Bridge struct {
	queue  messagequeue.Queue
	prefix string
	origin string
	bus    Injector
	stops  []func()
}

// NewBridge creates a bridge. origin identifies this process so it can skip
// its own traffic.
func NewBridge(queue messagequeue.Queue, prefix, origin string, bus Injector) *Bridge {
	return &Bridge{queue: queue, prefix: prefix, origin: origin, bus: bus}
}

// Forward implements service.Forwarder.
func (b *Bridge) Forward(ctx context.Context, m *message.Message) error {
	data, err := json.Marshal(messagequeue.EnvelopePayload{
		Origin:  b.origin,
		ID:      m.ID,
		Channel: string(m.Channel),
		Type:    string(m.Type),
		From:    m.From,
		To:      m.To,
		Payload: m.Payload,
		SentAt:  m.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.queue.Publish(ctx, messagequeue.Join(b.prefix, messagequeue.SubjectBus, string(m.Channel), string(m.Type)), data)
}

// Start subscribes to remote bus traffic and agent heartbeats.
func (b *Bridge) Start(ctx context.Context) error {
	stop, err := b.queue.Subscribe(ctx, messagequeue.Join(b.prefix, messagequeue.SubjectBus, "*", "*"), b.onEnvelope)
	if err != nil {
		return fmt.Errorf("subscribe bus: %w", err)
	}
	b.stops = append(b.stops, stop)

	stop, err = b.queue.Subscribe(ctx, messagequeue.Join(b.prefix, messagequeue.SubjectHeartbeat), b.onHeartbeat)
	if err != nil {
		b.Stop()
		return fmt.Errorf("subscribe heartbeats: %w", err)
	}
	b.stops = append(b.stops, stop)
	return nil
}

// Stop cancels the bridge subscriptions.
func (b *Bridge) Stop() {
	for _, stop := range b.stops {
		stop()
	}
	b.stops = nil
}

func (b *Bridge) onEnvelope(ctx context.Context, _ string, data []byte) error {
	var env messagequeue.EnvelopePayload
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Origin == b.origin {
		return nil
	}
	return b.bus.Inject(ctx, &message.Message{
		ID:        env.ID,
		Channel:   message.Channel(env.Channel),
		Type:      message.Type(env.Type),
		From:      env.From,
		To:        env.To,
		Payload:   env.Payload,
		Timestamp: env.SentAt,
	})
}

func (b *Bridge) onHeartbeat(ctx context.Context, _ string, data []byte) error {
	var hb messagequeue.HeartbeatPayload
	if err := json.Unmarshal(data, &hb); err != nil {
		return fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	slog.Debug("agent heartbeat", "agent_id", hb.AgentID, "status", hb.Status)
	return b.bus.Inject(ctx, &message.Message{
		Channel: message.ChannelCoordination,
		Type:    message.TypeStatusUpdate,
		From:    hb.AgentID,
		Payload: message.Encode(message.StatusUpdate{
			AgentID:  hb.AgentID,
			Status:   hb.Status,
			Workload: hb.Workload,
			PhaseID:  hb.PhaseID,
		}),
	})
}
