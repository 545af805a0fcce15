package message

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/swarmcore/internal/domain/proposal"
	"github.com/Strob0t/swarmcore/internal/domain/task"
)

// VoteRequest asks eligible agents to vote on a proposal.
type VoteRequest struct {
	ProposalID string            `json:"proposal_id"`
	Content    string            `json:"content"`
	Strategy   proposal.Strategy `json:"strategy"`
	Deadline   time.Time         `json:"deadline"`
}

// VoteResponse carries a ballot.
type VoteResponse struct {
	ProposalID string          `json:"proposal_id"`
	AgentID    string          `json:"agent_id"`
	Choice     proposal.Choice `json:"choice"`
	Confidence float64         `json:"confidence"`
}

// ConsensusCheck asks the engine to evaluate a proposal.
type ConsensusCheck struct {
	ProposalID string `json:"proposal_id"`
}

// ProposalResolved reports a proposal outcome to its voters.
type ProposalResolved struct {
	ProposalID    string          `json:"proposal_id"`
	Status        proposal.Status `json:"status"`
	Ratio         float64         `json:"ratio"`
	Participation float64         `json:"participation"`
	Reason        string          `json:"reason,omitempty"`
}

// Decision is broadcast once when a resolved proposal is executed.
type Decision struct {
	ProposalID string          `json:"proposal_id"`
	Status     proposal.Status `json:"status"`
	Action     proposal.Action `json:"action"`
	Ratio      float64         `json:"ratio"`
}

// StatusUpdate is an agent heartbeat.
type StatusUpdate struct {
	AgentID  string  `json:"agent_id"`
	Status   string  `json:"status,omitempty"`
	Workload float64 `json:"workload"`
	// PhaseID, when set, records progress on that phase.
	PhaseID string `json:"phase_id,omitempty"`
}

// QualityReport submits a checkpoint self-assessment for a phase.
type QualityReport struct {
	PhaseID string      `json:"phase_id"`
	Report  task.Report `json:"report"`
}

// KnowledgeShare writes an insight into the knowledge partition.
type KnowledgeShare struct {
	Key   string   `json:"key"`
	Value any      `json:"value"`
	Type  string   `json:"type,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// HelpRequest asks the coordinator to reassign a phase the sender cannot finish.
type HelpRequest struct {
	PhaseID string `json:"phase_id"`
	Reason  string `json:"reason,omitempty"`
}

// TaskProposal submits a task through the bus.
type TaskProposal struct {
	Spec task.Spec `json:"spec"`
}

// SyncKind distinguishes coordination_sync reports from the monitoring loops.
type SyncKind string

const (
	SyncHealth       SyncKind = "health"
	SyncOptimization SyncKind = "optimization"
)

// CoordinationSync carries monitoring loop findings to the coordinator.
type CoordinationSync struct {
	Kind          SyncKind `json:"kind"`
	Unresponsive  []string `json:"unresponsive,omitempty"`
	StalledPhases []string `json:"stalled_phases,omitempty"`
	Overloaded    bool     `json:"overloaded,omitempty"`
}

// Encode marshals v into a payload.
func Encode(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
