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
const DefaultConfigFile = "subctl.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.URL, "SUBCTL_NATS_URL")
	setDuration(&cfg.NATS.Timeout, "SUBCTL_NATS_TIMEOUT")
	setString(&cfg.Store.Bucket, "SUBCTL_STORE_BUCKET")
	setString(&cfg.Store.Stream, "SUBCTL_STORE_STREAM")
	setDuration(&cfg.Store.MaxAge, "SUBCTL_STORE_MAX_AGE")
	setDuration(&cfg.Orchestrator.StalenessWindow, "SUBCTL_STALENESS_WINDOW")
	setDuration(&cfg.Orchestrator.PollInterval, "SUBCTL_POLL_INTERVAL")
	setInt(&cfg.Orchestrator.ToolLogRetention, "SUBCTL_TOOL_LOG_RETENTION")
	setString(&cfg.Trust.PrivateKeyFile, "SUBCTL_PRIVATE_KEY_FILE")
	setString(&cfg.Logging.Level, "SUBCTL_LOG_LEVEL")
	setString(&cfg.Logging.Format, "SUBCTL_LOG_FORMAT")
	setString(&cfg.Logging.Service, "SUBCTL_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "SUBCTL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SUBCTL_BREAKER_TIMEOUT")
	setString(&cfg.Metrics.OTLPEndpoint, "SUBCTL_OTLP_ENDPOINT")
	setInt64(&cfg.Ingest.ReplayCacheSize, "SUBCTL_REPLAY_CACHE_SIZE")
	setDuration(&cfg.Ingest.ReplayCacheTTL, "SUBCTL_REPLAY_CACHE_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.NATS.Timeout <= 0 {
		return errors.New("nats.timeout must be > 0")
	}
	if cfg.Store.Bucket == "" {
		return errors.New("store.bucket is required")
	}
	if cfg.Store.Stream == "" {
		return errors.New("store.stream is required")
	}
	if cfg.Orchestrator.StalenessWindow <= 0 {
		return errors.New("orchestrator.staleness_window must be > 0")
	}
	if cfg.Orchestrator.PollInterval <= 0 {
		return errors.New("orchestrator.poll_interval must be > 0")
	}
	if cfg.Orchestrator.ToolLogRetention < 1 {
		return errors.New("orchestrator.tool_log_retention must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}
	for i, k := range cfg.Trust.Keys {
		if k.PublicKey == "" {
			return fmt.Errorf("trust.keys[%d].public_key is required", i)
		}
	}
	return nil
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
