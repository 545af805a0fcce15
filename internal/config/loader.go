package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "swarmcore.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("SWARM_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SWARM_PORT")
	setString(&cfg.Server.CORSOrigin, "SWARM_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimit, "SWARM_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "SWARM_RATE_BURST")

	setString(&cfg.Postgres.DSN, "SWARM_DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SWARM_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SWARM_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SWARM_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SWARM_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SWARM_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "SWARM_NATS_URL")
	setString(&cfg.NATS.Stream, "SWARM_NATS_STREAM")
	setString(&cfg.NATS.SubjectPrefix, "SWARM_NATS_SUBJECT_PREFIX")
	setString(&cfg.NATS.ReplicaBucket, "SWARM_NATS_REPLICA_BUCKET")

	setInt64(&cfg.Cache.L1MaxSizeMB, "SWARM_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "SWARM_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "SWARM_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "SWARM_CACHE_L2_TTL")

	setBool(&cfg.OTEL.Enabled, "SWARM_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "SWARM_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "SWARM_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "SWARM_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "SWARM_OTEL_SAMPLE_RATE")

	setString(&cfg.Logging.Level, "SWARM_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SWARM_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SWARM_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "SWARM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SWARM_BREAKER_TIMEOUT")

	// Consensus
	setDuration(&cfg.Consensus.DefaultDeadline, "SWARM_CONSENSUS_DEADLINE")
	setFloat64(&cfg.Consensus.DefaultMinParticipation, "SWARM_CONSENSUS_MIN_PARTICIPATION")
	setFloat64(&cfg.Consensus.QualifiedThreshold, "SWARM_CONSENSUS_QUALIFIED_THRESHOLD")
	setFloat64(&cfg.Consensus.ModifyBand, "SWARM_CONSENSUS_MODIFY_BAND")

	// Orchestrator
	setFloat64(&cfg.Orchestrator.LoadCeiling, "SWARM_ORCH_LOAD_CEILING")
	setDuration(&cfg.Orchestrator.StallThreshold, "SWARM_ORCH_STALL_THRESHOLD")
	setFloat64(&cfg.Orchestrator.DefaultPhaseWeight, "SWARM_ORCH_PHASE_WEIGHT")
	setInt(&cfg.Orchestrator.MaxPhaseRetries, "SWARM_ORCH_MAX_RETRIES")
	setDuration(&cfg.Orchestrator.RatificationTimeout, "SWARM_ORCH_RATIFICATION_TIMEOUT")
	setInt(&cfg.Orchestrator.DispatchConcurrency, "SWARM_ORCH_DISPATCH_CONCURRENCY")
	setFloat64(&cfg.Orchestrator.StallPenalty, "SWARM_ORCH_STALL_PENALTY")

	// Coordinator
	setDuration(&cfg.Coordinator.HealthInterval, "SWARM_COORD_HEALTH_INTERVAL")
	setDuration(&cfg.Coordinator.OptimizationInterval, "SWARM_COORD_OPTIMIZATION_INTERVAL")
	setDuration(&cfg.Coordinator.ResponsivenessWindow, "SWARM_COORD_RESPONSIVENESS_WINDOW")
	setFloat64(&cfg.Coordinator.HealthPenalty, "SWARM_COORD_HEALTH_PENALTY")
	setFloat64(&cfg.Coordinator.LearningRate, "SWARM_COORD_LEARNING_RATE")
	setString(&cfg.Coordinator.ID, "SWARM_COORD_ID")

	// Memory
	setString(&cfg.Memory.ConflictPolicy, "SWARM_MEMORY_CONFLICT_POLICY")
	setInt(&cfg.Memory.ReplicationFactor, "SWARM_MEMORY_REPLICATION_FACTOR")
	setInt(&cfg.Memory.Holders, "SWARM_MEMORY_HOLDERS")
	setInt(&cfg.Memory.CacheSize, "SWARM_MEMORY_CACHE_SIZE")
	setDuration(&cfg.Memory.CacheTTL, "SWARM_MEMORY_CACHE_TTL")

	// Bus
	setInt(&cfg.Bus.QueueCapacity, "SWARM_BUS_QUEUE_CAPACITY")
	setInt(&cfg.Bus.DispatchBuffer, "SWARM_BUS_DISPATCH_BUFFER")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Consensus.DefaultDeadline <= 0 {
		return errors.New("consensus.default_deadline must be > 0")
	}
	if !unit(cfg.Consensus.DefaultMinParticipation) {
		return errors.New("consensus.default_min_participation must be in [0, 1]")
	}
	if cfg.Consensus.QualifiedThreshold <= 0 || cfg.Consensus.QualifiedThreshold > 1 {
		return errors.New("consensus.qualified_threshold must be in (0, 1]")
	}
	if !unit(cfg.Consensus.ModifyBand) {
		return errors.New("consensus.modify_band must be in [0, 1]")
	}
	if cfg.Orchestrator.LoadCeiling <= 0 || cfg.Orchestrator.LoadCeiling > 1 {
		return errors.New("orchestrator.load_ceiling must be in (0, 1]")
	}
	if cfg.Orchestrator.StallThreshold <= 0 {
		return errors.New("orchestrator.stall_threshold must be > 0")
	}
	if cfg.Orchestrator.DefaultPhaseWeight <= 0 || cfg.Orchestrator.DefaultPhaseWeight > 1 {
		return errors.New("orchestrator.default_phase_weight must be in (0, 1]")
	}
	if cfg.Orchestrator.MaxPhaseRetries < 0 {
		return errors.New("orchestrator.max_phase_retries must be >= 0")
	}
	if cfg.Orchestrator.DispatchConcurrency < 1 {
		return errors.New("orchestrator.dispatch_concurrency must be >= 1")
	}
	if cfg.Coordinator.HealthInterval <= 0 || cfg.Coordinator.OptimizationInterval <= 0 {
		return errors.New("coordinator intervals must be > 0")
	}
	if cfg.Coordinator.ResponsivenessWindow <= 0 {
		return errors.New("coordinator.responsiveness_window must be > 0")
	}
	switch cfg.Memory.ConflictPolicy {
	case "last_writer_wins", "merge", "manual":
	default:
		return fmt.Errorf("memory.conflict_policy %q must be last_writer_wins, merge, or manual", cfg.Memory.ConflictPolicy)
	}
	if cfg.Memory.ReplicationFactor < 1 {
		return errors.New("memory.replication_factor must be >= 1")
	}
	if cfg.Memory.CacheSize < 1 {
		return errors.New("memory.cache_size must be >= 1")
	}
	if cfg.Bus.QueueCapacity < 1 || cfg.Bus.DispatchBuffer < 1 {
		return errors.New("bus queue sizes must be >= 1")
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
