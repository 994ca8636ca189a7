package config

import (
	"time"

	"kestrel-hq/kestrel/pkg/routing"
)

// Config is the root configuration structure for Kestrel. It covers the
// proxy listeners, the backend fleet and pool behavior, routing and rewrite
// rule sources, and logging.
type Config struct {
	// Proxy contains listener addresses, session timeouts, and wire
	// framing limits.
	Proxy ProxyConfig `yaml:"proxy"`

	// Backends lists the speech-to-text engines sessions can be routed
	// to. Names must be unique; routing rules refer to them by name.
	Backends []BackendConfig `yaml:"backends"`

	// Pool contains connection pool tuning: acquire and dial timeouts,
	// idle connection retention, and failure backoff.
	Pool PoolConfig `yaml:"pool"`

	// Routing selects where routing rules come from and whether the
	// rules file is watched for changes.
	Routing RoutingConfig `yaml:"routing"`

	// Rewrite configures the optional transcript rewrite rules.
	Rewrite RewriteConfig `yaml:"rewrite"`

	// Logging controls log level and output format.
	Logging LoggingConfig `yaml:"logging"`
}

// ProxyConfig contains configuration for the session listeners.
type ProxyConfig struct {
	// ListenAddress is the TCP address clients connect to.
	// Format: "host:port". Default: ":10300"
	ListenAddress string `yaml:"listen_address"`

	// WebSocketAddress, when non-empty, enables an HTTP listener that
	// upgrades /stream to a WebSocket carrying the same framed protocol,
	// for clients that cannot open raw TCP.
	WebSocketAddress string `yaml:"websocket_address"`

	// MetricsAddress, when non-empty, enables an HTTP listener serving
	// Prometheus metrics on /metrics and a liveness check on /healthz.
	MetricsAddress string `yaml:"metrics_address"`

	// OpenTimeout bounds the wait for a client's opening audio-start
	// event. Default: 10s
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// IdleTimeout bounds silence in either relay direction; a session
	// with no traffic for this long is torn down. Default: 5m
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds how long graceful shutdown waits for active
	// sessions before forcing them closed. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps a single event header line. Default: 65536
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxPayloadBytes caps a single event payload. Default: 1048576 (1MB)
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// BackendConfig describes one speech-to-text engine.
type BackendConfig struct {
	// Name is the identifier routing rules use for this backend.
	Name string `yaml:"name"`

	// Address is the engine's TCP address, "host:port".
	Address string `yaml:"address"`

	// MaxSessions bounds concurrent sessions on this backend.
	// Default: 4
	MaxSessions int `yaml:"max_sessions"`
}

// PoolConfig contains connection pool tuning.
type PoolConfig struct {
	// AcquireTimeout bounds the wait for a free backend slot.
	// Default: 5s
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// DialTimeout bounds a single backend dial attempt. Default: 3s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// IdleConnTTL is how long a recycled backend connection may sit idle
	// before the pruner closes it. Default: 2m
	IdleConnTTL time.Duration `yaml:"idle_conn_ttl"`

	// PruneSchedule is the cron schedule for the idle connection pruner.
	// Standard cron syntax plus @every shorthand. Default: "@every 1m"
	PruneSchedule string `yaml:"prune_schedule"`

	// BackoffBase is the first backoff interval after a backend dial
	// failure. Default: 500ms
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMax caps backoff interval growth. Default: 30s
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// RoutingConfig selects the routing rule source.
type RoutingConfig struct {
	// RulesFile is the path to a YAML rules file. Mutually exclusive
	// with Rules.
	RulesFile string `yaml:"rules_file"`

	// Rules holds inline routing rules, evaluated in order.
	Rules []routing.Rule `yaml:"rules"`

	// Watch reloads RulesFile on change. Default: true when RulesFile
	// is set.
	Watch *bool `yaml:"watch"`
}

// RewriteConfig configures the transcript rewrite pass.
type RewriteConfig struct {
	// RulesFile is the path to a YAML rewrite rules file. Empty disables
	// rewriting.
	RulesFile string `yaml:"rules_file"`

	// Watch reloads RulesFile when its modification time changes.
	// Default: true when RulesFile is set.
	Watch *bool `yaml:"watch"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level to emit: debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format selects the handler: "json" or "text". Default: "json"
	Format string `yaml:"format"`

	// AddSource includes the source file and line in each record.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// WatchRouting reports whether the routing rules file should be watched.
func (c *Config) WatchRouting() bool {
	if c.Routing.RulesFile == "" {
		return false
	}
	if c.Routing.Watch == nil {
		return true
	}
	return *c.Routing.Watch
}

// WatchRewrite reports whether the rewrite rules file should be watched.
func (c *Config) WatchRewrite() bool {
	if c.Rewrite.RulesFile == "" {
		return false
	}
	if c.Rewrite.Watch == nil {
		return true
	}
	return *c.Rewrite.Watch
}
