package config

const (
	DefaultBackend        = "auto"
	DefaultNetworkDriver  = "bridge"
	DefaultStopTimeout    = "0s"
	DefaultCleanupTimeout = "2m"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultColor          = "auto"
)

// DefaultConfig returns a Config with all default values applied.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend: DefaultBackend,
		},
		Network: NetworkConfig{
			Driver:         DefaultNetworkDriver,
			StopTimeout:    DefaultStopTimeout,
			CleanupTimeout: DefaultCleanupTimeout,
		},
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Color:     DefaultColor,
	}
}
