package otel

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

const meterName = "swarmcore"

// Metrics holds the swarmcore metric instruments. It implements
// broadcast.Broadcaster so it can sit in the event fanout.
type Metrics struct {
	Events         metric.Int64Counter
	ProposalRatio  metric.Float64Histogram
	TaskDuration   metric.Float64Histogram
	MemoryConflict metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Events, err = meter.Int64Counter("swarm.events",
		metric.WithDescription("Structured events emitted, by type"))
	if err != nil {
		return nil, err
	}

	m.ProposalRatio, err = meter.Float64Histogram("swarm.proposal.ratio",
		metric.WithDescription("Approval ratio of resolved proposals"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("swarm.task.duration_seconds",
		metric.WithDescription("Task duration from submission to terminal state"))
	if err != nil {
		return nil, err
	}

	m.MemoryConflict, err = meter.Int64Counter("swarm.memory.conflicts",
		metric.WithDescription("Concurrent memory writes detected"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// BroadcastEvent implements broadcast.Broadcaster.
func (m *Metrics) BroadcastEvent(ctx context.Context, ev event.Event) {
	typ := attribute.String("event.type", string(ev.Type))
	m.Events.Add(ctx, 1, metric.WithAttributes(typ))

	switch ev.Type {
	case event.TypeProposalResolved:
		var p struct {
			Status   string  `json:"status"`
			Strategy string  `json:"strategy"`
			Ratio    float64 `json:"ratio"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil {
			m.ProposalRatio.Record(ctx, p.Ratio, metric.WithAttributes(
				attribute.String("proposal.status", p.Status),
				attribute.String("proposal.strategy", p.Strategy),
			))
		}
	case event.TypeTaskCompleted, event.TypeTaskFailed, event.TypeTaskCancelled:
		var p struct {
			DurationMS int64 `json:"duration_ms"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil && p.DurationMS > 0 {
			m.TaskDuration.Record(ctx, float64(p.DurationMS)/1000, metric.WithAttributes(typ))
		}
	case event.TypeMemoryConflict:
		m.MemoryConflict.Add(ctx, 1)
	}
}
