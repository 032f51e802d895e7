package config

import (
	"testing"
)

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		envVar string
		value  string
		get    func(*Config) string
	}{
		{"DOCKBOOT_ENGINE", "podman", func(c *Config) string { return c.Engine.Backend }},
		{"DOCKBOOT_HOST", "tcp://10.0.0.1:2375", func(c *Config) string { return c.Engine.Host }},
		{"DOCKBOOT_LOG_LEVEL", "debug", func(c *Config) string { return c.LogLevel }},
		{"DOCKBOOT_LOG_FORMAT", "json", func(c *Config) string { return c.LogFormat }},
		{"DOCKBOOT_COLOR", "always", func(c *Config) string { return c.Color }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			cfg := DefaultConfig()
			t.Setenv(tt.envVar, tt.value)

			applyEnvOverrides(cfg)

			if got := tt.get(cfg); got != tt.value {
				t.Errorf("expected %s to set %q, got %q", tt.envVar, tt.value, got)
			}
		})
	}
}

func TestEnvOverrides_EmptyNoChange(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("DOCKBOOT_ENGINE", "")
	t.Setenv("DOCKBOOT_LOG_LEVEL", "")

	applyEnvOverrides(cfg)

	if cfg.Engine.Backend != DefaultBackend {
		t.Errorf("expected Engine.Backend to remain %q, got %q", DefaultBackend, cfg.Engine.Backend)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("expected LogLevel to remain %q, got %q", DefaultLogLevel, cfg.LogLevel)
	}
}
