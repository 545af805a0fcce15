package plan

import (
	"errors"
	"fmt"

	"github.com/Strob0t/swarmcore/internal/domain/task"
)

var (
	ErrDAGCycle      = errors.New("phase dependencies contain a cycle")
	ErrDAGInvalidRef = errors.New("phase dependency references unknown phase")
)

// ValidateDAG checks that phase dependencies form a valid DAG using Kahn's algorithm.
func ValidateDAG(phases []task.Phase) error {
	n := len(phases)
	index := make(map[string]int, n)
	for i := range phases {
		index[phases[i].ID] = i
	}
	inDegree := make([]int, n)
	adj := make([][]int, n)

	for i := range phases {
		for _, dep := range phases[i].DependsOn {
			idx, ok := index[dep]
			if !ok {
				return fmt.Errorf("phase %q depends on %q: %w", phases[i].Name, dep, ErrDAGInvalidRef)
			}
			if idx == i {
				return fmt.Errorf("phase %q depends on itself: %w", phases[i].Name, ErrDAGCycle)
			}
			adj[idx] = append(adj[idx], i)
			inDegree[i]++
		}
	}

	queue := make([]int, 0, n)
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, neighbor := range adj[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if visited != n {
		return ErrDAGCycle
	}
	return nil
}
