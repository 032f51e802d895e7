package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ValidationError contains details about what failed validation.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

var (
	validBackends   = []string{"auto", "api", "docker", "podman"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
	validColors     = []string{"auto", "always", "never"}
)

// validateConfig checks all config values for validity.
// Returns nil if valid, or joined errors for all validation failures.
func validateConfig(cfg *Config) error {
	var errs []error

	oneOf := func(field, value string, valid []string) {
		if !slices.Contains(valid, value) {
			errs = append(errs, &ValidationError{
				Field:   field,
				Value:   value,
				Message: fmt.Sprintf("must be one of: %v", valid),
			})
		}
	}

	oneOf("engine.backend", cfg.Engine.Backend, validBackends)
	oneOf("log_level", cfg.LogLevel, validLogLevels)
	oneOf("log_format", cfg.LogFormat, validLogFormats)
	oneOf("color", cfg.Color, validColors)

	if cfg.Network.Driver == "" {
		errs = append(errs, &ValidationError{
			Field:   "network.driver",
			Value:   cfg.Network.Driver,
			Message: "must not be empty",
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"network.stop_timeout", cfg.Network.StopTimeout},
		{"network.cleanup_timeout", cfg.Network.CleanupTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, &ValidationError{
				Field:   d.field,
				Value:   d.value,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
			continue
		}
		if v < 0 {
			errs = append(errs, &ValidationError{
				Field:   d.field,
				Value:   d.value,
				Message: "must not be negative",
			})
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
