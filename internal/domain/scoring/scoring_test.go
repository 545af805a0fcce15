package scoring_test

import (
	"math"
	"testing"

	"github.com/Strob0t/swarmcore/internal/domain/agent"
	"github.com/Strob0t/swarmcore/internal/domain/scoring"
)

func newAgent(id string, status agent.Status, load float64, caps ...string) *agent.Agent {
	return &agent.Agent{
		ID:           id,
		Role:         agent.RoleWorker,
		Capabilities: agent.CapabilitySet(agent.RoleWorker, caps...),
		Status:       status,
		Capacity:     1,
		Load:         load,
		Health:       1,
		ActivePhases: map[string]float64{},
	}
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		name  string
		agent *agent.Agent
		req   []string
		want  bool
	}{
		{"idle with caps", newAgent("a", agent.StatusIdle, 0, "go"), []string{"go"}, true},
		{"busy under capacity", newAgent("a", agent.StatusBusy, 0.5, "go"), []string{"go"}, true},
		{"missing capability", newAgent("a", agent.StatusIdle, 0), []string{"go"}, false},
		{"offline", newAgent("a", agent.StatusOffline, 0, "go"), []string{"go"}, false},
		{"at capacity", newAgent("a", agent.StatusBusy, 1, "go"), []string{"go"}, false},
		{"no requirements", newAgent("a", agent.StatusIdle, 0), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scoring.Qualifies(tt.agent, tt.req); got != tt.want {
				t.Fatalf("Qualifies = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRank_PrefersIdleAndExcludes(t *testing.T) {
	idle := newAgent("idle", agent.StatusIdle, 0, "go")
	busy := newAgent("busy", agent.StatusBusy, 0.6, "go")
	other := newAgent("other", agent.StatusIdle, 0, "go")
	unqualified := newAgent("nope", agent.StatusIdle, 0)

	ranked := scoring.Rank([]*agent.Agent{busy, idle, other, unqualified}, []string{"go"}, scoring.Default(), []string{"other"}, nil)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked candidates, got %d", len(ranked))
	}
	if ranked[0].AgentID != "idle" {
		t.Fatalf("expected idle agent first, got %s", ranked[0].AgentID)
	}
}

func TestRank_TieBreaksOnID(t *testing.T) {
	a := newAgent("b", agent.StatusIdle, 0, "go")
	b := newAgent("a", agent.StatusIdle, 0, "go")
	ranked := scoring.Rank([]*agent.Agent{a, b}, []string{"go"}, scoring.Default(), nil, nil)
	if ranked[0].AgentID != "a" {
		t.Fatalf("expected tie broken by id, got %s", ranked[0].AgentID)
	}
}

func TestRank_Bonus(t *testing.T) {
	a := newAgent("a", agent.StatusIdle, 0, "go")
	b := newAgent("b", agent.StatusIdle, 0, "go")
	ranked := scoring.Rank([]*agent.Agent{a, b}, []string{"go"}, scoring.Default(), nil, func(id string) float64 {
		if id == "b" {
			return 0.05
		}
		return 0
	})
	if ranked[0].AgentID != "b" {
		t.Fatalf("expected bonus to lift b, got %s", ranked[0].AgentID)
	}
}

func TestNormalize(t *testing.T) {
	w := scoring.Weights{Capability: 2, Health: 0, Success: 1, Load: 1}.Normalize()
	sum := w.Capability + w.Health + w.Success + w.Load
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %f", sum)
	}
	if w.Health <= 0 {
		t.Fatal("expected floor on zero component")
	}
}

func TestAdjust(t *testing.T) {
	start := scoring.Default()
	successes := []scoring.Components{{Capability: 1, Health: 1, Success: 0.5, Load: 0.5}}
	failures := []scoring.Components{{Capability: 1, Health: 0.2, Success: 0.5, Load: 0.5}}

	got := scoring.Adjust(start, successes, failures, 0.1)
	if got.Health <= start.Normalize().Health {
		t.Fatalf("health weight should grow, got %f", got.Health)
	}

	same := scoring.Adjust(start, successes, nil, 0.1)
	if same != start.Normalize() {
		t.Fatalf("expected unchanged weights without failures, got %+v", same)
	}
}

func TestCapable(t *testing.T) {
	offline := newAgent("a", agent.StatusOffline, 0, "rust")
	if !scoring.Capable([]*agent.Agent{offline}, []string{"rust"}) {
		t.Fatal("capability check should ignore availability")
	}
	if scoring.Capable([]*agent.Agent{offline}, []string{"zig"}) {
		t.Fatal("expected no capable agent")
	}
}
