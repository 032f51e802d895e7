// Package config loads dockboot settings from .dockboot.yaml and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the optional config file looked up in the working directory.
const FileName = ".dockboot.yaml"

// Config holds all dockboot configuration.
// It is immutable after creation via LoadConfig().
type Config struct {
	// Engine selects and addresses the container engine
	Engine EngineConfig `yaml:"engine"`

	// Network holds defaults for built networks
	Network NetworkConfig `yaml:"network"`

	// LogLevel controls log verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json
	LogFormat string `yaml:"log_format"`

	// Color is auto, always or never
	Color string `yaml:"color"`
}

// EngineConfig selects the engine backend.
type EngineConfig struct {
	// Backend is auto, api, docker or podman
	Backend string `yaml:"backend"`

	// Host overrides the engine address (e.g. unix:///run/docker.sock).
	// Empty uses DOCKER_HOST or the default socket.
	Host string `yaml:"host,omitempty"`
}

// NetworkConfig controls network builds and teardown.
type NetworkConfig struct {
	// Driver is the network driver
	Driver string `yaml:"driver"`

	// StopTimeout is how long containers get to stop before removal
	// ("0s" removes them straight away)
	StopTimeout string `yaml:"stop_timeout"`

	// CleanupTimeout bounds the whole cleanup phase ("0s" = unbounded)
	CleanupTimeout string `yaml:"cleanup_timeout"`
}

// StopTimeoutDuration parses the stop timeout as a Duration.
func (c *Config) StopTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.Network.StopTimeout)
}

// CleanupTimeoutDuration parses the cleanup timeout as a Duration.
func (c *Config) CleanupTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.Network.CleanupTimeout)
}

// LoadConfig loads configuration from dir.
// It applies defaults, then file values, then environment overrides,
// then validates.
func LoadConfig(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName), false)
}

// LoadFile loads configuration from path. A missing file is only an error
// when required is set.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case required || !os.IsNotExist(err):
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
