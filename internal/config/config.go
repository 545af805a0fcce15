// Package config provides hierarchical configuration loading for swarmcore.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the swarmcore daemon.
type Config struct {
	Server       Server       `yaml:"server"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	Cache        Cache        `yaml:"cache"`
	OTEL         OTEL         `yaml:"otel"`
	Logging      Logging      `yaml:"logging"`
	Breaker      Breaker      `yaml:"breaker"`
	Consensus    Consensus    `yaml:"consensus"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Coordinator  Coordinator  `yaml:"coordinator"`
	Memory       Memory       `yaml:"memory"`
	Bus          Bus          `yaml:"bus"`
}

// Server holds HTTP gateway configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN runs the
// daemon without durable persistence.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the bus
// bridge, the remote agent runtime, and the KV tiers.
type NATS struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`         // JetStream stream for bus traffic (default: "SWARM")
	SubjectPrefix string `yaml:"subject_prefix"` // default: "swarm"
	ReplicaBucket string `yaml:"replica_bucket"` // KV bucket prefix for memory replicas
}

// Cache holds the L1 (ristretto) and L2 (NATS KV) hydration cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"` // default: 64
	L1TTL       time.Duration `yaml:"l1_ttl"`         // cap on L1 lifetime (default: 1m)
	L2Bucket    string        `yaml:"l2_bucket"`      // default: "SWARM_CACHE"
	L2TTL       time.Duration `yaml:"l2_ttl"`         // default: 10m
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for replica holders.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Consensus holds proposal defaults.
type Consensus struct {
	DefaultDeadline         time.Duration `yaml:"default_deadline"`          // default: 30s
	DefaultMinParticipation float64       `yaml:"default_min_participation"` // default: 0.5
	QualifiedThreshold      float64       `yaml:"qualified_threshold"`       // default: 0.60
	ModifyBand              float64       `yaml:"modify_band"`               // fraction of threshold that still asks for modification (default: 0.8)
}

// Orchestrator holds phase scheduling configuration.
type Orchestrator struct {
	LoadCeiling         float64       `yaml:"load_ceiling"`         // aggregate load that triggers rebalancing (default: 0.8)
	StallThreshold      time.Duration `yaml:"stall_threshold"`      // inactivity before a phase is stalled (default: 2m)
	DefaultPhaseWeight  float64       `yaml:"default_phase_weight"` // default: 0.3
	MaxPhaseRetries     int           `yaml:"max_phase_retries"`    // default: 2
	RatificationTimeout time.Duration `yaml:"ratification_timeout"` // default: 30s
	DispatchConcurrency int           `yaml:"dispatch_concurrency"` // default: 8
	StallPenalty        float64       `yaml:"stall_penalty"`        // health decrement on stall (default: 0.1)
}

// Coordinator holds monitoring loop configuration.
type Coordinator struct {
	HealthInterval       time.Duration `yaml:"health_interval"`       // default: 5s
	OptimizationInterval time.Duration `yaml:"optimization_interval"` // default: 1m
	ResponsivenessWindow time.Duration `yaml:"responsiveness_window"` // default: 15s
	HealthPenalty        float64       `yaml:"health_penalty"`        // default: 0.2
	LearningRate         float64       `yaml:"learning_rate"`         // default: 0.1
	ID                   string        `yaml:"id"`                    // bus identity (default: "coordinator")
}

// Memory holds distributed memory configuration.
type Memory struct {
	ConflictPolicy    string        `yaml:"conflict_policy"`    // last_writer_wins | merge | manual (default: last_writer_wins)
	ReplicationFactor int           `yaml:"replication_factor"` // default: 3
	Holders           int           `yaml:"holders"`            // in-process replica holders (default: 3)
	CacheSize         int           `yaml:"cache_size"`         // cache partition LRU size (default: 1024)
	CacheTTL          time.Duration `yaml:"cache_ttl"`          // default cache partition TTL (default: 5m)
}

// Bus holds communication bus configuration.
type Bus struct {
	QueueCapacity  int `yaml:"queue_capacity"`  // per-agent inbound queue bound (default: 256)
	DispatchBuffer int `yaml:"dispatch_buffer"` // handler dispatch channel size (default: 1024)
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
			RateLimit:  50,
			RateBurst:  100,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream:        "SWARM",
			SubjectPrefix: "swarm",
			ReplicaBucket: "SWARM_REPLICA",
		},
		Cache: Cache{
			L1MaxSizeMB: 64,
			L1TTL:       time.Minute,
			L2Bucket:    "SWARM_CACHE",
			L2TTL:       10 * time.Minute,
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "swarmcore",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Logging: Logging{
			Level:   "info",
			Service: "swarmcore",
		},
		Breaker: Breaker{
			MaxFailures: 3,
			Timeout:     30 * time.Second,
		},
		Consensus: Consensus{
			DefaultDeadline:         30 * time.Second,
			DefaultMinParticipation: 0.5,
			QualifiedThreshold:      0.60,
			ModifyBand:              0.8,
		},
		Orchestrator: Orchestrator{
			LoadCeiling:         0.8,
			StallThreshold:      2 * time.Minute,
			DefaultPhaseWeight:  0.3,
			MaxPhaseRetries:     2,
			RatificationTimeout: 30 * time.Second,
			DispatchConcurrency: 8,
			StallPenalty:        0.1,
		},
		Coordinator: Coordinator{
			HealthInterval:       5 * time.Second,
			OptimizationInterval: time.Minute,
			ResponsivenessWindow: 15 * time.Second,
			HealthPenalty:        0.2,
			LearningRate:         0.1,
			ID:                   "coordinator",
		},
		Memory: Memory{
			ConflictPolicy:    "last_writer_wins",
			ReplicationFactor: 3,
			Holders:           3,
			CacheSize:         1024,
			CacheTTL:          5 * time.Minute,
		},
		Bus: Bus{
			QueueCapacity:  256,
			DispatchBuffer: 1024,
		},
	}
}
