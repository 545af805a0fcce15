package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Orchestrator.LoadCeiling != 0.8 {
		t.Errorf("expected load ceiling 0.8, got %v", cfg.Orchestrator.LoadCeiling)
	}
	if cfg.Coordinator.HealthInterval != 5*time.Second {
		t.Errorf("expected health interval 5s, got %v", cfg.Coordinator.HealthInterval)
	}
	if cfg.Coordinator.OptimizationInterval != time.Minute {
		t.Errorf("expected optimization interval 1m, got %v", cfg.Coordinator.OptimizationInterval)
	}
	if cfg.Memory.ConflictPolicy != "last_writer_wins" {
		t.Errorf("expected last_writer_wins, got %s", cfg.Memory.ConflictPolicy)
	}
	if cfg.Consensus.QualifiedThreshold != 0.60 {
		t.Errorf("expected qualified threshold 0.60, got %v", cfg.Consensus.QualifiedThreshold)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
orchestrator:
  load_ceiling: 0.7
  stall_threshold: 45s
memory:
  conflict_policy: merge
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Orchestrator.LoadCeiling != 0.7 {
		t.Errorf("expected load ceiling 0.7, got %v", cfg.Orchestrator.LoadCeiling)
	}
	if cfg.Orchestrator.StallThreshold != 45*time.Second {
		t.Errorf("expected stall threshold 45s, got %v", cfg.Orchestrator.StallThreshold)
	}
	if cfg.Memory.ConflictPolicy != "merge" {
		t.Errorf("expected merge policy, got %s", cfg.Memory.ConflictPolicy)
	}
	// Unchanged fields keep defaults
	if cfg.Bus.QueueCapacity != 256 {
		t.Errorf("expected default queue capacity, got %d", cfg.Bus.QueueCapacity)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("SWARM_PORT", "7070")
	t.Setenv("SWARM_DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("SWARM_NATS_URL", "nats://nats:4222")
	t.Setenv("SWARM_LOG_ASYNC", "true")
	t.Setenv("SWARM_COORD_HEALTH_INTERVAL", "2s")
	t.Setenv("SWARM_MEMORY_REPLICATION_FACTOR", "5")
	t.Setenv("SWARM_CONSENSUS_MODIFY_BAND", "0.9")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("unexpected DSN %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("unexpected NATS URL %s", cfg.NATS.URL)
	}
	if !cfg.Logging.Async {
		t.Error("expected async logging")
	}
	if cfg.Coordinator.HealthInterval != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Coordinator.HealthInterval)
	}
	if cfg.Memory.ReplicationFactor != 5 {
		t.Errorf("expected replication factor 5, got %d", cfg.Memory.ReplicationFactor)
	}
	if cfg.Consensus.ModifyBand != 0.9 {
		t.Errorf("expected modify band 0.9, got %v", cfg.Consensus.ModifyBand)
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("SWARM_ORCH_LOAD_CEILING", "high")
	t.Setenv("SWARM_COORD_HEALTH_INTERVAL", "soon")
	loadEnv(&cfg)
	if cfg.Orchestrator.LoadCeiling != 0.8 || cfg.Coordinator.HealthInterval != 5*time.Second {
		t.Error("invalid env values should leave defaults in place")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"ceiling", func(c *Config) { c.Orchestrator.LoadCeiling = 1.5 }, "load_ceiling"},
		{"policy", func(c *Config) { c.Memory.ConflictPolicy = "first_writer_wins" }, "conflict_policy"},
		{"replication", func(c *Config) { c.Memory.ReplicationFactor = 0 }, "replication_factor"},
		{"deadline", func(c *Config) { c.Consensus.DefaultDeadline = 0 }, "default_deadline"},
		{"participation", func(c *Config) { c.Consensus.DefaultMinParticipation = -0.1 }, "min_participation"},
		{"dispatch", func(c *Config) { c.Orchestrator.DispatchConcurrency = 0 }, "dispatch_concurrency"},
		{"pg conns only with dsn", func(c *Config) { c.Postgres.DSN = "postgres://x"; c.Postgres.MaxConns = 0 }, "max_conns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}
