// Package scoring ranks agents for phase assignment.
package scoring

import (
	"math"
	"sort"

	"github.com/Strob0t/swarmcore/internal/domain/agent"
)

// Weights are the per-component coefficients of an assignment score. They
// are normalized to sum to 1 before use.
type Weights struct {
	Capability float64 `json:"capability"`
	Health     float64 `json:"health"`
	Success    float64 `json:"success"`
	Load       float64 `json:"load"`
}

// Default returns the starting weights for every strategy.
func Default() Weights {
	return Weights{Capability: 0.4, Health: 0.25, Success: 0.2, Load: 0.15}
}

// minWeight keeps every component in play after learning adjustments.
const minWeight = 0.05

// Normalize clamps every component to a small floor and rescales them to sum to 1.
func (w Weights) Normalize() Weights {
	w.Capability = math.Max(w.Capability, minWeight)
	w.Health = math.Max(w.Health, minWeight)
	w.Success = math.Max(w.Success, minWeight)
	w.Load = math.Max(w.Load, minWeight)
	sum := w.Capability + w.Health + w.Success + w.Load
	return Weights{
		Capability: w.Capability / sum,
		Health:     w.Health / sum,
		Success:    w.Success / sum,
		Load:       w.Load / sum,
	}
}

// Components is the per-component signal of one agent for one phase, each in [0, 1].
type Components struct {
	Capability float64 `json:"capability"`
	Health     float64 `json:"health"`
	Success    float64 `json:"success"`
	Load       float64 `json:"load"`
}

// Apply returns the weighted sum of c under w.
func (c Components) Apply(w Weights) float64 {
	w = w.Normalize()
	return w.Capability*c.Capability + w.Health*c.Health + w.Success*c.Success + w.Load*c.Load
}

// Qualifies reports whether a may take a phase needing required: it holds
// every capability, is available, and is under capacity.
func Qualifies(a *agent.Agent, required []string) bool {
	if !a.Status.Available() || !a.UnderCapacity() {
		return false
	}
	return a.Capabilities.Contains(required...)
}

// Signals computes the score components for a and required. Capability
// rewards specialists: an agent whose capabilities are mostly the required
// ones scores higher than a generalist.
func Signals(a *agent.Agent, required []string) Components {
	capability := 0.5
	if n := a.Capabilities.Cardinality(); n > 0 && len(required) > 0 {
		capability = 0.5 + 0.5*float64(len(required))/float64(max(n, len(required)))
	}
	return Components{
		Capability: capability,
		Health:     clamp01(a.Health),
		Success:    a.SuccessRate(),
		Load:       1 - a.Workload(),
	}
}

// Ranked is one scored candidate.
type Ranked struct {
	AgentID    string
	Score      float64
	Components Components
}

// Rank scores every qualifying candidate not in exclude and returns them best
// first. Ties break on agent id. bonus, when non-nil, adds a per-agent
// adjustment after weighting.
func Rank(candidates []*agent.Agent, required []string, w Weights, exclude []string, bonus func(id string) float64) []Ranked {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := make([]Ranked, 0, len(candidates))
	for _, a := range candidates {
		if skip[a.ID] || !Qualifies(a, required) {
			continue
		}
		c := Signals(a, required)
		score := c.Apply(w)
		if bonus != nil {
			score += bonus(a.ID)
		}
		out = append(out, Ranked{AgentID: a.ID, Score: score, Components: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// Capable reports whether any candidate holds every required capability,
// regardless of availability or load.
func Capable(candidates []*agent.Agent, required []string) bool {
	for _, a := range candidates {
		if a.Capabilities.Contains(required...) {
			return true
		}
	}
	return false
}

// Adjust moves w toward the components that distinguished successful
// assignments from failed ones. rate bounds the step size.
func Adjust(w Weights, successes, failures []Components, rate float64) Weights {
	if len(successes) == 0 || len(failures) == 0 {
		return w.Normalize()
	}
	s, f := mean(successes), mean(failures)
	w.Capability += rate * (s.Capability - f.Capability)
	w.Health += rate * (s.Health - f.Health)
	w.Success += rate * (s.Success - f.Success)
	w.Load += rate * (s.Load - f.Load)
	return w.Normalize()
}

func mean(cs []Components) Components {
	var m Components
	for _, c := range cs {
		m.Capability += c.Capability
		m.Health += c.Health
		m.Success += c.Success
		m.Load += c.Load
	}
	n := float64(len(cs))
	return Components{Capability: m.Capability / n, Health: m.Health / n, Success: m.Success / n, Load: m.Load / n}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
