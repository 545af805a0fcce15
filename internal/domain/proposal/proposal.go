// Package proposal defines proposals, votes, and the tallying rules used by
// the consensus engine.
package proposal

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/swarmcore/internal/domain"
)

// Strategy is the voting rule applied to a proposal.
type Strategy string

const (
	StrategySimpleMajority    Strategy = "simple_majority"
	StrategySupermajority     Strategy = "supermajority"
	StrategyUnanimous         Strategy = "unanimous"
	StrategyQualifiedMajority Strategy = "qualified_majority"
)

// DefaultQualifiedThreshold applies to qualified majority unless overridden.
const DefaultQualifiedThreshold = 0.60

// Threshold returns the default approval threshold for a strategy.
func (s Strategy) Threshold() (float64, error) {
	switch s {
	case StrategySimpleMajority:
		return 0.50, nil
	case StrategySupermajority:
		return 0.66, nil
	case StrategyUnanimous:
		return 1.00, nil
	case StrategyQualifiedMajority:
		return DefaultQualifiedThreshold, nil
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrInvalidStrategy, s)
}

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusOpen       Status = "open"
	StatusEvaluating Status = "evaluating"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// IsTerminal returns true once the proposal has an outcome.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusTimedOut
}

// Choice is a voter's ballot.
type Choice string

const (
	ChoiceApprove Choice = "approve"
	ChoiceReject  Choice = "reject"
	ChoiceAbstain Choice = "abstain"
)

// Valid reports whether c is a known choice.
func (c Choice) Valid() bool {
	return c == ChoiceApprove || c == ChoiceReject || c == ChoiceAbstain
}

// Action is what executing a resolved proposal asks the system to do.
type Action string

const (
	ActionApprove Action = "approve"
	ActionModify  Action = "modify"
	ActionCancel  Action = "cancel"
)

// Vote is one voter's ballot. Votes are append-only.
type Vote struct {
	ProposalID string    `json:"proposal_id"`
	AgentID    string    `json:"agent_id"`
	Choice     Choice    `json:"choice"`
	Confidence float64   `json:"confidence"`
	CastAt     time.Time `json:"cast_at"`
}

// Proposal is a decision request.
type Proposal struct {
	ID               string             `json:"id"`
	Content          string             `json:"content"`
	Proposer         string             `json:"proposer,omitempty"`
	Strategy         Strategy           `json:"strategy"`
	Threshold        float64            `json:"threshold"`
	Deadline         time.Time          `json:"deadline"`
	MinParticipation float64            `json:"min_participation"`
	Eligible         []string           `json:"eligible"`
	Expertise        map[string]float64 `json:"expertise,omitempty"`
	Status           Status             `json:"status"`
	Ratio            float64            `json:"ratio"`
	Participation    float64            `json:"participation"`
	Reason           string             `json:"reason,omitempty"`
	Votes            []Vote             `json:"votes"`
	Action           Action             `json:"action,omitempty"`
	Executed         bool               `json:"executed"`
	CreatedAt        time.Time          `json:"created_at"`
	ResolvedAt       time.Time          `json:"resolved_at,omitzero"`
}

// IsEligible reports whether agentID may vote.
func (p *Proposal) IsEligible(agentID string) bool {
	return slices.Contains(p.Eligible, agentID)
}

// HasVoted reports whether agentID already voted.
func (p *Proposal) HasVoted(agentID string) bool {
	for i := range p.Votes {
		if p.Votes[i].AgentID == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	c := *p
	c.Eligible = slices.Clone(p.Eligible)
	c.Votes = slices.Clone(p.Votes)
	if p.Expertise != nil {
		c.Expertise = make(map[string]float64, len(p.Expertise))
		for k, v := range p.Expertise {
			c.Expertise[k] = v
		}
	}
	return &c
}

// CreateRequest holds the fields for opening a proposal.
type CreateRequest struct {
	Content          string             `json:"content"`
	Proposer         string             `json:"proposer,omitempty"`
	Strategy         Strategy           `json:"strategy"`
	Threshold        *float64           `json:"threshold,omitempty"`
	Deadline         time.Time          `json:"deadline"`
	MinParticipation float64            `json:"min_participation"`
	Voters           []string           `json:"voters,omitempty"`
	Expertise        map[string]float64 `json:"expertise,omitempty"`
}

// Validate checks the request against now.
func (r *CreateRequest) Validate(now time.Time) error {
	if _, err := r.Strategy.Threshold(); err != nil {
		return err
	}
	if r.Content == "" {
		return fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if r.Deadline.IsZero() || !r.Deadline.After(now) {
		return fmt.Errorf("%w: deadline %s is not in the future", domain.ErrInvalidDeadline, r.Deadline.Format(time.RFC3339))
	}
	if r.Threshold != nil && (*r.Threshold <= 0 || *r.Threshold > 1) {
		return fmt.Errorf("%w: threshold must be in (0, 1]", domain.ErrValidation)
	}
	if r.MinParticipation < 0 || r.MinParticipation > 1 {
		return fmt.Errorf("%w: min_participation must be in [0, 1]", domain.ErrValidation)
	}
	if r.Strategy == StrategyQualifiedMajority && len(r.Expertise) == 0 {
		return fmt.Errorf("%w: qualified majority requires expertise weights", domain.ErrValidation)
	}
	for id, w := range r.Expertise {
		if w < 0 {
			return fmt.Errorf("%w: negative expertise weight for %s", domain.ErrValidation, id)
		}
	}
	return nil
}
