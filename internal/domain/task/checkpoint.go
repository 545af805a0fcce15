package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Strob0t/swarmcore/internal/domain"
)

// Criterion names one of the four checkpoint dimensions.
type Criterion string

const (
	CriterionCompleteness Criterion = "completeness"
	CriterionAccuracy     Criterion = "accuracy"
	CriterionFeasibility  Criterion = "feasibility"
	CriterionPerformance  Criterion = "performance"
)

// Criteria holds the minimum score per dimension. Zero thresholds always pass.
type Criteria struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Feasibility  float64 `json:"feasibility"`
	Performance  float64 `json:"performance"`
}

// Validate checks every threshold is within [0, 1].
func (c Criteria) Validate() error {
	for _, v := range []float64{c.Completeness, c.Accuracy, c.Feasibility, c.Performance} {
		if v < 0 || v > 1 {
			return errors.New("criteria thresholds must be in [0, 1]")
		}
	}
	return nil
}

// Report is an agent's self-assessment submitted at a checkpoint.
type Report struct {
	AgentID      string  `json:"agent_id,omitempty"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Feasibility  float64 `json:"feasibility"`
	Performance  float64 `json:"performance"`
	Summary      string  `json:"summary,omitempty"`
}

// Shortfall is one criterion scored below its threshold.
type Shortfall struct {
	Criterion Criterion `json:"criterion"`
	Threshold float64   `json:"threshold"`
	Score     float64   `json:"score"`
}

// CheckpointError lists every criterion a phase missed.
type CheckpointError struct {
	PhaseID    string
	Shortfalls []Shortfall
}

func (e *CheckpointError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s %.2f < %.2f", s.Criterion, s.Score, s.Threshold))
	}
	return fmt.Sprintf("checkpoint failed for phase %s: %s", e.PhaseID, strings.Join(parts, ", "))
}

func (e *CheckpointError) Unwrap() error { return domain.ErrCheckpointFailed }

// Evaluate applies the criteria to a report and returns the shortfalls.
func (c Criteria) Evaluate(r Report) []Shortfall {
	pairs := []struct {
		name      Criterion
		threshold float64
		score     float64
	}{
		{CriterionCompleteness, c.Completeness, r.Completeness},
		{CriterionAccuracy, c.Accuracy, r.Accuracy},
		{CriterionFeasibility, c.Feasibility, r.Feasibility},
		{CriterionPerformance, c.Performance, r.Performance},
	}
	var out []Shortfall
	for _, p := range pairs {
		if p.score+1e-9 < p.threshold {
			out = append(out, Shortfall{Criterion: p.name, Threshold: p.threshold, Score: p.score})
		}
	}
	return out
}
