// Package event defines the structured events the core emits for external
// observers.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeAgentRegistered    Type = "agent_registered"
	TypeAgentOffline       Type = "agent_offline"
	TypeProposalResolved   Type = "proposal_resolved"
	TypeDecisionExecuted   Type = "decision_executed"
	TypePhaseAssigned      Type = "phase_assigned"
	TypePhaseFailed        Type = "phase_failed"
	TypePhaseStalled       Type = "phase_stalled"
	TypeCapabilityMismatch Type = "capability_mismatch"
	TypeRebalancePerformed Type = "rebalance_performed"
	TypeTaskCompleted      Type = "task_completed"
	TypeTaskFailed         Type = "task_failed"
	TypeTaskCancelled      Type = "task_cancelled"
	TypeMemoryConflict     Type = "memory_conflict"
	TypeWeightsAdjusted    Type = "weights_adjusted"
)

// Event is a single immutable observation.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	TaskID     string          `json:"task_id,omitempty"`
	PhaseID    string          `json:"phase_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	ProposalID string          `json:"proposal_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter controls which events a store returns.
type Filter struct {
	Types []Type     `json:"types,omitempty"`
	After *time.Time `json:"after,omitempty"`
	Limit int        `json:"limit,omitempty"`
}
