package task

import (
	"fmt"
	"strings"

	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
)

// Spec is a submitted objective.
type Spec struct {
	Description string      `json:"description"`
	Strategy    Strategy    `json:"strategy,omitempty"`
	Phases      []PhaseSpec `json:"phases"`
	// Conflicts lists requirements known to pull in different directions;
	// any entry pushes the coordinator toward a consensus-gated plan.
	Conflicts []string `json:"conflicts,omitempty"`
	// Ratification is the voting rule for the consensus gate.
	Ratification proposal.Strategy `json:"ratification,omitempty"`
}

// PhaseSpec describes one phase of a submitted objective.
type PhaseSpec struct {
	Name                 string   `json:"name"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// DependsOn references earlier phases by name.
	DependsOn []string `json:"depends_on,omitempty"`
	// Inputs and Outputs name data items; an input produced by another
	// phase's outputs is a cross-phase data dependency.
	Inputs     []string `json:"inputs,omitempty"`
	Outputs    []string `json:"outputs,omitempty"`
	Weight     float64  `json:"weight,omitempty"`
	AgentCount int      `json:"agent_count,omitempty"`
	Criteria   Criteria `json:"criteria"`
}

// Validate checks the spec for structural correctness.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Description) == "" {
		return fmt.Errorf("%w: description is required", domain.ErrInvalidTaskSpec)
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("%w: at least one phase is required", domain.ErrInvalidTaskSpec)
	}
	if s.Strategy != "" && !s.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidTaskSpec, s.Strategy)
	}
	if s.Ratification != "" {
		if _, err := s.Ratification.Threshold(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidTaskSpec, err)
		}
	}

	names := make(map[string]int, len(s.Phases))
	for i, p := range s.Phases {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: phase %d: name is required", domain.ErrInvalidTaskSpec, i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("%w: duplicate phase name %q", domain.ErrInvalidTaskSpec, p.Name)
		}
		if p.Weight < 0 || p.Weight > 1 {
			return fmt.Errorf("%w: phase %q: weight must be in [0, 1]", domain.ErrInvalidTaskSpec, p.Name)
		}
		if p.AgentCount < 0 {
			return fmt.Errorf("%w: phase %q: agent_count must be >= 0", domain.ErrInvalidTaskSpec, p.Name)
		}
		if err := p.Criteria.Validate(); err != nil {
			return fmt.Errorf("%w: phase %q: %w", domain.ErrInvalidTaskSpec, p.Name, err)
		}
		names[p.Name] = i
	}
	for _, p := range s.Phases {
		for _, dep := range p.DependsOn {
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("%w: phase %q depends on unknown phase %q", domain.ErrInvalidTaskSpec, p.Name, dep)
			}
			if dep == p.Name {
				return fmt.Errorf("%w: phase %q depends on itself", domain.ErrInvalidTaskSpec, p.Name)
			}
		}
	}
	return nil
}
