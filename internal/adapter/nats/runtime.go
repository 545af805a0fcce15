package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/swarmcore/internal/domain/task"
	"github.com/Strob0t/swarmcore/internal/port/messagequeue"
)

// Runtime implements agentruntime.Runtime by publishing assignments to
// prefix.runtime.assign.<agent> and withdrawals to prefix.runtime.cancel.<agent>.
type Runtime struct {
	queue  messagequeue.Queue
	prefix string
}

// NewRuntime creates a remote agent runtime.
func NewRuntime(queue messagequeue.Queue, prefix string) *Runtime {
	return &Runtime{queue: queue, prefix: prefix}
}

// AssignPhase implements agentruntime.Runtime.
func (r *Runtime) AssignPhase(ctx context.Context, agentID string, p *task.Phase) error {
	data, err := json.Marshal(messagequeue.AssignPhasePayload{
		AgentID:              agentID,
		TaskID:               p.TaskID,
		PhaseID:              p.ID,
		Name:                 p.Name,
		RequiredCapabilities: p.RequiredCapabilities,
		Weight:               p.Weight,
	})
	if err != nil {
		return fmt.Errorf("marshal assignment: %w", err)
	}
	return r.queue.Publish(ctx, messagequeue.Join(r.prefix, messagequeue.SubjectAssignPhase, agentID), data)
}

// CancelPhase implements agentruntime.Runtime.
func (r *Runtime) CancelPhase(ctx context.Context, agentID, phaseID string) error {
	data, err := json.Marshal(messagequeue.CancelPhasePayload{AgentID: agentID, PhaseID: phaseID})
	if err != nil {
		return fmt.Errorf("marshal cancellation: %w", err)
	}
	return r.queue.Publish(ctx, messagequeue.Join(r.prefix, messagequeue.SubjectCancelPhase, agentID), data)
}
