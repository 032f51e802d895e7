package config

import "os"

// envOverrides maps environment variables to config field setters.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string)
}{
	{
		envVar: "DOCKBOOT_ENGINE",
		apply: func(c *Config, v string) {
			c.Engine.Backend = v
		},
	},
	{
		envVar: "DOCKBOOT_HOST",
		apply: func(c *Config, v string) {
			c.Engine.Host = v
		},
	},
	{
		envVar: "DOCKBOOT_LOG_LEVEL",
		apply: func(c *Config, v string) {
			c.LogLevel = v
		},
	},
	{
		envVar: "DOCKBOOT_LOG_FORMAT",
		apply: func(c *Config, v string) {
			c.LogFormat = v
		},
	},
	{
		envVar: "DOCKBOOT_COLOR",
		apply: func(c *Config, v string) {
			c.Color = v
		},
	},
}

// applyEnvOverrides modifies config in place with environment variable values.
func applyEnvOverrides(cfg *Config) {
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			override.apply(cfg, val)
		}
	}
}
