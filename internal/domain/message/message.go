// Package message defines the typed envelopes exchanged on the communication bus.
package message

import (
	"encoding/json"
	"slices"
	"time"
)

// Channel is one of the logical bus channels.
type Channel string

const (
	ChannelBroadcast    Channel = "broadcast"
	ChannelConsensus    Channel = "consensus"
	ChannelCoordination Channel = "coordination"
	ChannelKnowledge    Channel = "knowledge"
)

// Channels lists every channel.
var Channels = []Channel{ChannelBroadcast, ChannelConsensus, ChannelCoordination, ChannelKnowledge}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return slices.Contains(Channels, c)
}

// Type identifies the payload carried by a message.
type Type string

const (
	TypeTaskProposal     Type = "task_proposal"
	TypeVoteRequest      Type = "vote_request"
	TypeVoteResponse     Type = "vote_response"
	TypeStatusUpdate     Type = "status_update"
	TypeKnowledgeShare   Type = "knowledge_share"
	TypeHelpRequest      Type = "help_request"
	TypeConsensusCheck   Type = "consensus_check"
	TypeQualityReport    Type = "quality_report"
	TypeCoordinationSync Type = "coordination_sync"
	TypeProposalResolved Type = "proposal_resolved"
	TypeDecision         Type = "decision"
)

// Urgent reports whether messages of this type jump ahead of FIFO order.
func (t Type) Urgent() bool {
	switch t {
	case TypeHelpRequest, TypeVoteRequest, TypeConsensusCheck:
		return true
	}
	return false
}

// Message is a bus envelope. Payload is JSON so envelopes can cross a
// network transport unchanged.
type Message struct {
	ID        string          `json:"id"`
	Channel   Channel         `json:"channel"`
	Type      Type            `json:"type"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// Remote marks messages injected from a transport bridge; they are never
	// forwarded back out.
	Remote bool `json:"-"`
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}
