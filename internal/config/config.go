// Package config provides hierarchical configuration loading for subctl.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for subctl.
type Config struct {
	NATS         NATS         `yaml:"nats"`
	Store        Store        `yaml:"store"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Trust        Trust        `yaml:"trust"`
	Logging      Logging      `yaml:"logging"`
	Breaker      Breaker      `yaml:"breaker"`
	Metrics      Metrics      `yaml:"metrics"`
	Ingest       Ingest       `yaml:"ingest"`
}

// NATS holds connection configuration for the shared state store.
type NATS struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"` // per store call
}

// Store holds JetStream bucket and stream configuration.
type Store struct {
	Bucket string        `yaml:"bucket"`
	Stream string        `yaml:"stream"`
	MaxAge time.Duration `yaml:"max_age"` // event retention
}

// Orchestrator holds fleet view and fold configuration.
type Orchestrator struct {
	StalenessWindow  time.Duration `yaml:"staleness_window"`   // active/historical boundary (default: 10m)
	PollInterval     time.Duration `yaml:"poll_interval"`      // watch refresh tick (default: 5s)
	ToolLogRetention int           `yaml:"tool_log_retention"` // tool calls kept per agent (default: 50)
}

// Trust holds event signing and verification configuration.
type Trust struct {
	PrivateKeyFile string       `yaml:"private_key_file"`
	Keys           []TrustedKey `yaml:"keys"`
	Revoked        []string     `yaml:"revoked"`
}

// TrustedKey is one trusted verification key. Expires is optional; the
// zero value means the key never expires.
type TrustedKey struct {
	ID        string    `yaml:"id"`
	PublicKey string    `yaml:"public_key"` // hex-encoded Ed25519 public key
	Expires   time.Time `yaml:"expires"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // "json" | "text"
	Service string `yaml:"service"`
}

// Breaker holds circuit breaker configuration for store access.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Metrics holds OpenTelemetry export configuration.
type Metrics struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"` // empty disables export
}

// Ingest holds fold daemon configuration.
type Ingest struct {
	ReplayCacheSize int64         `yaml:"replay_cache_size"` // seen-event entries (default: 4096)
	ReplayCacheTTL  time.Duration `yaml:"replay_cache_ttl"`  // per-entry lifetime (default: 10m)
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		NATS: NATS{
			URL:     "nats://localhost:4222",
			Timeout: 5 * time.Second,
		},
		Store: Store{
			Bucket: "agents",
			Stream: "SUBCTL_EVENTS",
			MaxAge: time.Hour,
		},
		Orchestrator: Orchestrator{
			StalenessWindow:  10 * time.Minute,
			PollInterval:     5 * time.Second,
			ToolLogRetention: 50,
		},
		Trust: Trust{
			PrivateKeyFile: "subctl.key",
		},
		Logging: Logging{
			Level:   "info",
			Format:  "text",
			Service: "subctl",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Ingest: Ingest{
			ReplayCacheSize: 4096,
			ReplayCacheTTL:  10 * time.Minute,
		},
	}
}
