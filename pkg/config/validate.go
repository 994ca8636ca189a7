package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration
// field.
type FieldError struct {
	// Field is the dotted path to the configuration field
	// (e.g., "proxy.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a
// configuration. All field errors are collected and returned together.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails. It returns nil if the configuration is valid.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateBackends(cfg.Backends)...)
	errs = append(errs, validatePool(&cfg.Pool)...)
	errs = append(errs, validateRouting(&cfg.Routing)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: fmt.Sprintf("invalid address %q: must be host:port", cfg.ListenAddress),
		})
	}

	for field, addr := range map[string]string{
		"proxy.websocket_address": cfg.WebSocketAddress,
		"proxy.metrics_address":   cfg.MetricsAddress,
	} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("invalid address %q: must be host:port", addr),
			})
		}
	}

	if cfg.MaxPayloadBytes < cfg.MaxHeaderBytes {
		errs = append(errs, FieldError{
			Field:   "proxy.max_payload_bytes",
			Message: "must be at least max_header_bytes",
		})
	}
	return errs
}

func validateBackends(backends []BackendConfig) []FieldError {
	var errs []FieldError

	if len(backends) == 0 {
		errs = append(errs, FieldError{
			Field:   "backends",
			Message: "at least one backend is required",
		})
		return errs
	}

	seen := make(map[string]bool, len(backends))
	for i, b := range backends {
		field := fmt.Sprintf("backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, FieldError{
				Field:   field + ".name",
				Message: "backend name is required",
			})
		} else if seen[b.Name] {
			errs = append(errs, FieldError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate backend name %q", b.Name),
			})
		}
		seen[b.Name] = true

		if b.Address == "" {
			errs = append(errs, FieldError{
				Field:   field + ".address",
				Message: "backend address is required",
			})
		} else if _, _, err := net.SplitHostPort(b.Address); err != nil {
			errs = append(errs, FieldError{
				Field:   field + ".address",
				Message: fmt.Sprintf("invalid address %q: must be host:port", b.Address),
			})
		}
	}
	return errs
}

func validatePool(cfg *PoolConfig) []FieldError {
	var errs []FieldError

	if cfg.BackoffMax < cfg.BackoffBase {
		errs = append(errs, FieldError{
			Field:   "pool.backoff_max",
			Message: "must be at least backoff_base",
		})
	}
	if cfg.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "pool.prune_schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.PruneSchedule, err),
			})
		}
	}
	return errs
}

func validateRouting(cfg *RoutingConfig) []FieldError {
	var errs []FieldError

	if cfg.RulesFile != "" && len(cfg.Rules) > 0 {
		errs = append(errs, FieldError{
			Field:   "routing",
			Message: "rules_file and inline rules are mutually exclusive",
		})
	}
	if cfg.RulesFile == "" && len(cfg.Rules) == 0 {
		errs = append(errs, FieldError{
			Field:   "routing",
			Message: "either rules_file or inline rules are required",
		})
	}
	return errs
}

func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError

	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q: must be one of debug, info, warn, error", cfg.Level),
		})
	}

	switch cfg.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q: must be json or text", cfg.Format),
		})
	}
	return errs
}
