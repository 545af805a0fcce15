// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed structural validation.
var ErrValidation = errors.New("validation failed")

// Task and phase errors.
var (
	ErrInvalidTaskSpec    = errors.New("invalid task spec")
	ErrCapabilityMismatch = errors.New("no agent satisfies the phase capability requirements")
	ErrCheckpointFailed   = errors.New("checkpoint failed")
	ErrTaskStalled        = errors.New("task stalled")
)

// Consensus errors.
var (
	ErrInvalidStrategy        = errors.New("invalid strategy")
	ErrInvalidDeadline        = errors.New("invalid deadline")
	ErrProposalClosed         = errors.New("proposal closed")
	ErrDuplicateVote          = errors.New("duplicate vote")
	ErrIneligibleVoter        = errors.New("voter is not eligible for this proposal")
	ErrNotResolved            = errors.New("proposal has not resolved")
	ErrConsensusParticipation = errors.New("consensus participation below minimum")
)

// Agent errors.
var (
	ErrAgentUnresponsive = errors.New("agent unresponsive")
	ErrCapacityExceeded  = errors.New("agent capacity exceeded")
)

// ErrMemoryConflict indicates concurrent writes that the configured policy
// refuses to resolve automatically.
var ErrMemoryConflict = errors.New("memory conflict")
