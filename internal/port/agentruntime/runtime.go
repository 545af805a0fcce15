// Package agentruntime defines the port to the external process that actually
// runs agents.
package agentruntime

import (
	"context"

	"github.com/Strob0t/swarmcore/internal/domain/task"
)

// Runtime delivers phase work to agents and withdraws it. Progress, heartbeats,
// and checkpoint reports come back through the communication bus.
type Runtime interface {
	AssignPhase(ctx context.Context, agentID string, phase *task.Phase) error
	CancelPhase(ctx context.Context, agentID, phaseID string) error
}

// Nop accepts every call. It stands in when agents drive the bus directly.
type Nop struct{}

// AssignPhase implements Runtime.
func (Nop) AssignPhase(context.Context, string, *task.Phase) error { return nil }

// CancelPhase implements Runtime.
func (Nop) CancelPhase(context.Context, string, string) error { return nil }
