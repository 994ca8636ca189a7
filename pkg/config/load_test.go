package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
proxy:
  listen_address: "0.0.0.0:10300"
  open_timeout: "20s"

backends:
  - name: whisper-en
    address: "10.0.0.5:10300"
    max_sessions: 8
  - name: whisper-fallback
    address: "10.0.0.6:10300"

routing:
  rules:
    - name: english
      match:
        language: en
      backends: [whisper-en, whisper-fallback]

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Proxy.ListenAddress != "0.0.0.0:10300" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:10300", cfg.Proxy.ListenAddress)
	}
	if cfg.Proxy.OpenTimeout != 20*time.Second {
		t.Errorf("expected open timeout %v, got %v", 20*time.Second, cfg.Proxy.OpenTimeout)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(cfg.Backends))
	}
	if cfg.Backends[0].MaxSessions != 8 {
		t.Errorf("expected max_sessions 8, got %d", cfg.Backends[0].MaxSessions)
	}
	if cfg.Backends[1].MaxSessions != DefaultMaxSessions {
		t.Errorf("expected default max_sessions %d, got %d", DefaultMaxSessions, cfg.Backends[1].MaxSessions)
	}
	if len(cfg.Routing.Rules) != 1 || cfg.Routing.Rules[0].Match.Language != "en" {
		t.Errorf("routing rules not parsed: %+v", cfg.Routing.Rules)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v, want debug/text", cfg.Logging)
	}

	// Untouched sections pick up defaults.
	if cfg.Proxy.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("expected default idle timeout %v, got %v", DefaultIdleTimeout, cfg.Proxy.IdleTimeout)
	}
	if cfg.Pool.PruneSchedule != DefaultPruneSchedule {
		t.Errorf("expected default prune schedule %q, got %q", DefaultPruneSchedule, cfg.Pool.PruneSchedule)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "proxy: [not: a: mapping")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %v, want parse failure", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: b1
    address: "not-an-address"
routing:
  rules:
    - backends: [b1]
`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %T, want ValidationError", errors.Unwrap(err))
	}
}

func TestLoadConfig_NoBackends(t *testing.T) {
	path := writeConfig(t, `
routing:
  rules:
    - backends: [b1]
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "at least one backend") {
		t.Errorf("error = %v, want missing backends failure", err)
	}
}

func TestLoadConfig_RulesSourceExclusive(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: b1
    address: "127.0.0.1:10300"
routing:
  rules_file: rules.yaml
  rules:
    - backends: [b1]
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("error = %v, want mutual exclusion failure", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
proxy:
  listen_address: "127.0.0.1:10300"
backends:
  - name: b1
    address: "127.0.0.1:10301"
routing:
  rules:
    - backends: [b1]
`)

	t.Setenv("KESTREL_PROXY_LISTEN_ADDRESS", "0.0.0.0:9999")
	t.Setenv("KESTREL_PROXY_IDLE_TIMEOUT", "90s")
	t.Setenv("KESTREL_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Proxy.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("env override not applied: listen address = %q", cfg.Proxy.ListenAddress)
	}
	if cfg.Proxy.IdleTimeout != 90*time.Second {
		t.Errorf("env override not applied: idle timeout = %v", cfg.Proxy.IdleTimeout)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env override not applied: level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: b1
    address: "127.0.0.1:10301"
routing:
  rules:
    - backends: [b1]
`)

	t.Setenv("KESTREL_PROXY_LISTEN_ADDRESS", "no-port-here")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Fatal("expected validation failure after env override")
	}
}

func TestWatchFlags(t *testing.T) {
	no := false
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"no rules file", Config{}, false},
		{"rules file defaults to watch", Config{Routing: RoutingConfig{RulesFile: "r.yaml"}}, true},
		{"watch disabled", Config{Routing: RoutingConfig{RulesFile: "r.yaml", Watch: &no}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.WatchRouting(); got != tt.want {
				t.Errorf("WatchRouting() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_PruneSchedule(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: b1
    address: "127.0.0.1:10301"
pool:
  prune_schedule: "not a schedule"
routing:
  rules:
    - backends: [b1]
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "prune_schedule") {
		t.Errorf("error = %v, want prune_schedule failure", err)
	}
}
