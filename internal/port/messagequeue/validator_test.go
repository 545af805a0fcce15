package messagequeue

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr string
	}{
		{"envelope", "swarm.bus.consensus.vote_request", `{"origin":"n1","id":"m1","channel":"consensus","type":"vote_request","sent_at":"2026-01-01T00:00:00Z"}`, ""},
		{"envelope missing type", "swarm.bus.consensus.vote_request", `{"id":"m1","channel":"consensus"}`, "required"},
		{"assign", "swarm.runtime.assign.a1", `{"agent_id":"a1","phase_id":"p1","weight":0.4}`, ""},
		{"assign missing phase", "swarm.runtime.assign.a1", `{"agent_id":"a1"}`, "phase_id"},
		{"assign wrong type", "swarm.runtime.assign.a1", `{"phase_id":"p1","weight":"heavy"}`, "schema validation failed"},
		{"heartbeat", "swarm.agents.heartbeat", `{"agent_id":"a1","status":"idle","workload":0.2}`, ""},
		{"heartbeat missing agent", "swarm.agents.heartbeat", `{"status":"idle"}`, "agent_id"},
		{"invalid json", "swarm.agents.heartbeat", `{`, "invalid JSON"},
		{"unknown subject", "swarm.something.else", `{"x":1}`, ""},
		{"foreign prefix", "other.agents.heartbeat", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("swarm", tt.subject, []byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	if got := Join("swarm", SubjectBus, "consensus", "vote_request"); got != "swarm.bus.consensus.vote_request" {
		t.Fatalf("Join = %s", got)
	}
}
