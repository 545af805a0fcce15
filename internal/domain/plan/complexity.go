package plan

import (
	"math"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Strob0t/swarmcore/internal/domain/task"
)

// Complexity infers a 0..1 complexity score for a spec from its phase count,
// capability breadth, data coupling, and average phase weight.
func Complexity(spec *task.Spec) float64 {
	n := len(spec.Phases)
	if n == 0 {
		return 0
	}

	caps := mapset.NewThreadUnsafeSet[string]()
	outputs := mapset.NewThreadUnsafeSet[string]()
	var weight float64
	for i := range spec.Phases {
		caps.Append(spec.Phases[i].RequiredCapabilities...)
		outputs.Append(spec.Phases[i].Outputs...)
		weight += spec.Phases[i].Weight
	}

	edges := 0
	for i := range spec.Phases {
		edges += len(spec.Phases[i].DependsOn)
		for _, in := range spec.Phases[i].Inputs {
			if outputs.Contains(in) {
				edges++
			}
		}
	}
	coupling := 0.0
	if n > 1 {
		coupling = math.Min(float64(edges)/float64(n-1), 1)
	}

	score := 0.35*math.Min(float64(n)/8, 1) +
		0.25*math.Min(float64(caps.Cardinality())/6, 1) +
		0.25*coupling +
		0.15*math.Min(weight/float64(n), 1)
	return math.Round(score*1000) / 1000
}
