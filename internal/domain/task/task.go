// Package task defines the Task and Phase domain entities.
package task

import (
	"slices"
	"time"

	"github.com/Strob0t/swarmcore/internal/domain/proposal"
)

// Strategy is the execution strategy of a task's phases.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyAdaptive   Strategy = "adaptive"
	StrategyConsensus  Strategy = "consensus"
)

// Strategies lists the valid execution strategies.
var Strategies = []Strategy{StrategySequential, StrategyParallel, StrategyAdaptive, StrategyConsensus}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return slices.Contains(Strategies, s)
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the task is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// PhaseStatus represents the lifecycle state of a phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseAssigned   PhaseStatus = "assigned"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCheckpoint PhaseStatus = "checkpoint"
	PhaseStalled    PhaseStatus = "stalled"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseCancelled  PhaseStatus = "cancelled"
)

// IsTerminal returns true if the phase is in a final state.
func (s PhaseStatus) IsTerminal() bool {
	switch s {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Active reports whether an agent currently holds the phase.
func (s PhaseStatus) Active() bool {
	switch s {
	case PhaseAssigned, PhaseInProgress, PhaseCheckpoint:
		return true
	}
	return false
}

// PhaseKind separates agent work from consensus ratification gates.
type PhaseKind string

const (
	KindWork         PhaseKind = "work"
	KindRatification PhaseKind = "ratification"
)

// Phase is one unit of task work.
type Phase struct {
	ID                   string      `json:"id"`
	TaskID               string      `json:"task_id"`
	Index                int         `json:"index"`
	Name                 string      `json:"name"`
	Kind                 PhaseKind   `json:"kind"`
	RequiredCapabilities []string    `json:"required_capabilities"`
	DependsOn            []string    `json:"depends_on,omitempty"` // phase ids
	Weight               float64     `json:"weight"`
	AgentCount           int         `json:"agent_count"`
	AssignedAgents       []string    `json:"assigned_agents,omitempty"`
	ExcludedAgents       []string    `json:"excluded_agents,omitempty"`
	Status               PhaseStatus `json:"status"`
	Criteria             Criteria    `json:"criteria"`
	ProposalID           string      `json:"proposal_id,omitempty"`
	Attempts             int         `json:"attempts"`
	Error                string      `json:"error,omitempty"`
	LastProgress         time.Time   `json:"last_progress,omitzero"`
	AssignedAt           time.Time   `json:"assigned_at,omitzero"`
	CompletedAt          time.Time   `json:"completed_at,omitzero"`
}

// Clone returns a deep copy.
func (p *Phase) Clone() Phase {
	c := *p
	c.RequiredCapabilities = slices.Clone(p.RequiredCapabilities)
	c.DependsOn = slices.Clone(p.DependsOn)
	c.AssignedAgents = slices.Clone(p.AssignedAgents)
	c.ExcludedAgents = slices.Clone(p.ExcludedAgents)
	return c
}

// Task is a submitted objective with its ordered phases. A task owns its
// phases exclusively.
type Task struct {
	ID           string            `json:"id"`
	Description  string            `json:"description"`
	Strategy     Strategy          `json:"strategy"`
	Coordination string            `json:"coordination,omitempty"`
	Ratification proposal.Strategy `json:"ratification,omitempty"`
	Roster       []string          `json:"roster,omitempty"`
	Phases       []Phase           `json:"phases"`
	Status       Status            `json:"status"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  time.Time         `json:"completed_at,omitzero"`
}

// Phase returns the phase with the given id, or nil.
func (t *Task) Phase(id string) *Phase {
	for i := range t.Phases {
		if t.Phases[i].ID == id {
			return &t.Phases[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.Roster = slices.Clone(t.Roster)
	c.Phases = make([]Phase, len(t.Phases))
	for i := range t.Phases {
		c.Phases[i] = t.Phases[i].Clone()
	}
	return &c
}
