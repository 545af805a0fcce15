package plan

import "github.com/Strob0t/swarmcore/internal/domain/task"

// ReadyPhases returns the ids of pending phases whose dependencies have all completed.
func ReadyPhases(phases []task.Phase) []string {
	completed := make(map[string]bool, len(phases))
	for i := range phases {
		if phases[i].Status == task.PhaseCompleted {
			completed[phases[i].ID] = true
		}
	}

	var ready []string
	for i := range phases {
		if phases[i].Status != task.PhasePending {
			continue
		}
		allDepsComplete := true
		for _, dep := range phases[i].DependsOn {
			if !completed[dep] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, phases[i].ID)
		}
	}
	return ready
}

// Ready reports whether the phase id is pending with every dependency completed.
func Ready(phases []task.Phase, id string) bool {
	for _, r := range ReadyPhases(phases) {
		if r == id {
			return true
		}
	}
	return false
}

// ActiveCount returns the number of phases currently held by agents.
func ActiveCount(phases []task.Phase) int {
	count := 0
	for i := range phases {
		if phases[i].Status.Active() {
			count++
		}
	}
	return count
}

// AllTerminal returns true if every phase is in a terminal state.
func AllTerminal(phases []task.Phase) bool {
	for i := range phases {
		if !phases[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed returns true if at least one phase has failed.
func AnyFailed(phases []task.Phase) bool {
	for i := range phases {
		if phases[i].Status == task.PhaseFailed {
			return true
		}
	}
	return false
}

// Dependents returns the ids of every phase that transitively depends on id.
func Dependents(phases []task.Phase, id string) []string {
	children := make(map[string][]string, len(phases))
	for i := range phases {
		for _, dep := range phases[i].DependsOn {
			children[dep] = append(children[dep], phases[i].ID)
		}
	}
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// Blocked reports whether a pending phase can never become ready because a
// dependency ended in a non-completed terminal state.
func Blocked(phases []task.Phase, id string) bool {
	status := make(map[string]task.PhaseStatus, len(phases))
	for i := range phases {
		status[phases[i].ID] = phases[i].Status
	}
	for i := range phases {
		if phases[i].ID != id {
			continue
		}
		for _, dep := range phases[i].DependsOn {
			s := status[dep]
			if s.IsTerminal() && s != task.PhaseCompleted {
				return true
			}
		}
	}
	return false
}
