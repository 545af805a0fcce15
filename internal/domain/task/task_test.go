package task_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/task"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    task.Spec
		wantErr bool
	}{
		{"ok", task.Spec{Description: "d", Phases: []task.PhaseSpec{{Name: "a"}, {Name: "b", DependsOn: []string{"a"}}}}, false},
		{"missing description", task.Spec{Phases: []task.PhaseSpec{{Name: "a"}}}, true},
		{"no phases", task.Spec{Description: "d"}, true},
		{"bad strategy", task.Spec{Description: "d", Strategy: "chaos", Phases: []task.PhaseSpec{{Name: "a"}}}, true},
		{"duplicate name", task.Spec{Description: "d", Phases: []task.PhaseSpec{{Name: "a"}, {Name: "a"}}}, true},
		{"unknown dep", task.Spec{Description: "d", Phases: []task.PhaseSpec{{Name: "a", DependsOn: []string{"x"}}}}, true},
		{"weight", task.Spec{Description: "d", Phases: []task.PhaseSpec{{Name: "a", Weight: 2}}}, true},
		{"criteria", task.Spec{Description: "d", Phases: []task.PhaseSpec{{Name: "a", Criteria: task.Criteria{Accuracy: 1.2}}}}, true},
		{"ratification", task.Spec{Description: "d", Ratification: "plurality", Phases: []task.PhaseSpec{{Name: "a"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidTaskSpec) {
				t.Fatalf("expected ErrInvalidTaskSpec, got %v", err)
			}
		})
	}
}

func TestCriteriaEvaluate(t *testing.T) {
	c := task.Criteria{Completeness: 0.8, Accuracy: 0.9}
	short := c.Evaluate(task.Report{Completeness: 0.85, Accuracy: 0.5, Feasibility: 0, Performance: 0})
	if len(short) != 1 || short[0].Criterion != task.CriterionAccuracy {
		t.Fatalf("expected only accuracy shortfall, got %+v", short)
	}
	err := &task.CheckpointError{PhaseID: "p2", Shortfalls: short}
	if !errors.Is(err, domain.ErrCheckpointFailed) {
		t.Fatal("CheckpointError should wrap ErrCheckpointFailed")
	}
}

func TestTaskClone(t *testing.T) {
	orig := &task.Task{ID: "t", Phases: []task.Phase{{ID: "p", AssignedAgents: []string{"a"}}}}
	c := orig.Clone()
	c.Phases[0].AssignedAgents[0] = "b"
	if orig.Phases[0].AssignedAgents[0] != "a" {
		t.Fatal("clone shares phase slices")
	}
	if orig.Phase("p") == nil || orig.Phase("missing") != nil {
		t.Fatal("Phase lookup mismatch")
	}
}
