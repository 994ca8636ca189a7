package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Variables follow the naming convention
// KESTREL_SECTION_FIELD (e.g., KESTREL_PROXY_LISTEN_ADDRESS) and always take
// precedence over file values.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies KESTREL_SECTION_FIELD environment variable
// overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Proxy overrides
	if val := os.Getenv("KESTREL_PROXY_LISTEN_ADDRESS"); val != "" {
		cfg.Proxy.ListenAddress = val
	}
	if val := os.Getenv("KESTREL_PROXY_WEBSOCKET_ADDRESS"); val != "" {
		cfg.Proxy.WebSocketAddress = val
	}
	if val := os.Getenv("KESTREL_PROXY_METRICS_ADDRESS"); val != "" {
		cfg.Proxy.MetricsAddress = val
	}
	if val := os.Getenv("KESTREL_PROXY_OPEN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Proxy.OpenTimeout = d
		}
	}
	if val := os.Getenv("KESTREL_PROXY_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Proxy.IdleTimeout = d
		}
	}
	if val := os.Getenv("KESTREL_PROXY_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Proxy.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("KESTREL_PROXY_MAX_HEADER_BYTES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Proxy.MaxHeaderBytes = i
		}
	}
	if val := os.Getenv("KESTREL_PROXY_MAX_PAYLOAD_BYTES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Proxy.MaxPayloadBytes = i
		}
	}

	// Pool overrides
	if val := os.Getenv("KESTREL_POOL_ACQUIRE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pool.AcquireTimeout = d
		}
	}
	if val := os.Getenv("KESTREL_POOL_DIAL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pool.DialTimeout = d
		}
	}
	if val := os.Getenv("KESTREL_POOL_IDLE_CONN_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pool.IdleConnTTL = d
		}
	}
	if val := os.Getenv("KESTREL_POOL_PRUNE_SCHEDULE"); val != "" {
		cfg.Pool.PruneSchedule = val
	}

	// Routing overrides
	if val := os.Getenv("KESTREL_ROUTING_RULES_FILE"); val != "" {
		cfg.Routing.RulesFile = val
		cfg.Routing.Rules = nil
	}

	// Rewrite overrides
	if val := os.Getenv("KESTREL_REWRITE_RULES_FILE"); val != "" {
		cfg.Rewrite.RulesFile = val
	}

	// Logging overrides
	if val := os.Getenv("KESTREL_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("KESTREL_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}
