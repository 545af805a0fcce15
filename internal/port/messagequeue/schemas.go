package messagequeue

import (
	"encoding/json"
	"time"
)

// EnvelopePayload is the schema for bridged bus messages. Origin is the
// instance id that published it, so a bridge ignores its own traffic.
type EnvelopePayload struct {
	Origin  string          `json:"origin"`
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// AssignPhasePayload is the schema for runtime.assign messages.
type AssignPhasePayload struct {
	AgentID              string   `json:"agent_id"`
	TaskID               string   `json:"task_id"`
	PhaseID              string   `json:"phase_id"`
	Name                 string   `json:"name"`
	RequiredCapabilities []string `json:"required_capabilities"`
	Weight               float64  `json:"weight"`
}

// CancelPhasePayload is the schema for runtime.cancel messages.
type CancelPhasePayload struct {
	AgentID string `json:"agent_id"`
	PhaseID string `json:"phase_id"`
}

// HeartbeatPayload is the schema for agents.heartbeat messages.
type HeartbeatPayload struct {
	AgentID  string  `json:"agent_id"`
	Status   string  `json:"status"`
	Workload float64 `json:"workload"`
	PhaseID  string  `json:"phase_id,omitempty"`
}
