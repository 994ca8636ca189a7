package config

import "time"

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress   = ":10300"
	DefaultOpenTimeout     = 10 * time.Second
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxHeaderBytes  = 64 * 1024
	DefaultMaxPayloadBytes = 1024 * 1024

	// Backend defaults
	DefaultMaxSessions = 4

	// Pool defaults
	DefaultAcquireTimeout = 5 * time.Second
	DefaultDialTimeout    = 3 * time.Second
	DefaultIdleConnTTL    = 2 * time.Minute
	DefaultPruneSchedule  = "@every 1m"
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second

	// Logging defaults
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"
)

// ApplyDefaults fills zero-valued fields with their defaults. It modifies
// cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.OpenTimeout <= 0 {
		cfg.Proxy.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.Proxy.IdleTimeout <= 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout <= 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes <= 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Proxy.MaxPayloadBytes <= 0 {
		cfg.Proxy.MaxPayloadBytes = DefaultMaxPayloadBytes
	}

	for i := range cfg.Backends {
		if cfg.Backends[i].MaxSessions <= 0 {
			cfg.Backends[i].MaxSessions = DefaultMaxSessions
		}
	}

	if cfg.Pool.AcquireTimeout <= 0 {
		cfg.Pool.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Pool.DialTimeout <= 0 {
		cfg.Pool.DialTimeout = DefaultDialTimeout
	}
	if cfg.Pool.IdleConnTTL <= 0 {
		cfg.Pool.IdleConnTTL = DefaultIdleConnTTL
	}
	if cfg.Pool.PruneSchedule == "" {
		cfg.Pool.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.Pool.BackoffBase <= 0 {
		cfg.Pool.BackoffBase = DefaultBackoffBase
	}
	if cfg.Pool.BackoffMax <= 0 {
		cfg.Pool.BackoffMax = DefaultBackoffMax
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
}
