// Package plan turns a task spec into an ordered set of phases according to
// the execution strategy.
package plan

import (
	"fmt"

	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/task"
)

// RatificationPhase is the name of the gate phase inserted by the consensus strategy.
const RatificationPhase = "ratification"

// Defaults fills in phase fields the spec leaves zero.
type Defaults struct {
	Weight     float64
	AgentCount int
}

// Build creates the phases for spec under strategy. newID mints phase ids.
func Build(spec *task.Spec, strategy task.Strategy, taskID string, d Defaults, newID func() string) ([]task.Phase, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if d.AgentCount <= 0 {
		d.AgentCount = 1
	}

	offset := 0
	if strategy == task.StrategyConsensus {
		offset = 1
	}
	phases := make([]task.Phase, 0, len(spec.Phases)+offset)
	if offset == 1 {
		phases = append(phases, task.Phase{
			ID:     newID(),
			TaskID: taskID,
			Index:  0,
			Name:   RatificationPhase,
			Kind:   task.KindRatification,
			Status: task.PhasePending,
		})
	}

	byName := make(map[string]string, len(spec.Phases))
	for i := range spec.Phases {
		ps := &spec.Phases[i]
		weight := ps.Weight
		if weight == 0 {
			weight = d.Weight
		}
		count := ps.AgentCount
		if count == 0 {
			count = d.AgentCount
		}
		p := task.Phase{
			ID:                   newID(),
			TaskID:               taskID,
			Index:                i + offset,
			Name:                 ps.Name,
			Kind:                 task.KindWork,
			RequiredCapabilities: append([]string(nil), ps.RequiredCapabilities...),
			Weight:               weight,
			AgentCount:           count,
			Criteria:             ps.Criteria,
			Status:               task.PhasePending,
		}
		byName[ps.Name] = p.ID
		phases = append(phases, p)
	}

	switch strategy {
	case task.StrategySequential:
		for i := 1; i < len(phases); i++ {
			phases[i].DependsOn = []string{phases[i-1].ID}
		}
	case task.StrategyParallel:
		// independent
	case task.StrategyAdaptive:
		linkData(spec, phases, byName)
	case task.StrategyConsensus:
		linkData(spec, phases[1:], byName)
		for i := 1; i < len(phases); i++ {
			phases[i].DependsOn = append([]string{phases[0].ID}, phases[i].DependsOn...)
		}
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidTaskSpec, strategy)
	}

	if err := ValidateDAG(phases); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTaskSpec, err)
	}
	return phases, nil
}

// linkData wires declared dependencies and inferred data dependencies. A
// phase consuming an input some other phase outputs runs after that phase;
// phases without such edges stay parallel.
func linkData(spec *task.Spec, phases []task.Phase, byName map[string]string) {
	producers := make(map[string][]string)
	for i := range spec.Phases {
		for _, out := range spec.Phases[i].Outputs {
			producers[out] = append(producers[out], byName[spec.Phases[i].Name])
		}
	}
	for i := range spec.Phases {
		ps := &spec.Phases[i]
		self := byName[ps.Name]
		seen := make(map[string]bool)
		var deps []string
		add := func(id string) {
			if id == self || seen[id] {
				return
			}
			seen[id] = true
			deps = append(deps, id)
		}
		for _, name := range ps.DependsOn {
			add(byName[name])
		}
		for _, in := range ps.Inputs {
			for _, id := range producers[in] {
				add(id)
			}
		}
		phases[i].DependsOn = deps
	}
}
