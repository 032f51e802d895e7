package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// Backend names accepted by Open.
const (
	BackendAuto   = "auto"
	BackendAPI    = "api"
	BackendDocker = "docker"
	BackendPodman = "podman"
)

// Options selects and configures an engine backend.
type Options struct {
	// Backend is one of auto, api, docker, podman
	Backend string

	// Host overrides the Docker API endpoint (api backend only)
	Host string

	Logger *slog.Logger
}

// Open connects to a container engine. "auto" prefers the Docker Engine API
// and falls back to whichever CLI runtime is installed.
func Open(ctx context.Context, opts Options) (Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Backend {
	case BackendAPI:
		return NewDocker(ctx, opts.Host, logger)
	case BackendDocker, BackendPodman:
		if _, err := exec.LookPath(opts.Backend); err != nil {
			return nil, fmt.Errorf("%s: %w", opts.Backend, ErrNoRuntime)
		}
		return NewCLI(opts.Backend), nil
	case BackendAuto, "":
		d, err := NewDocker(ctx, opts.Host, logger)
		if err == nil {
			return d, nil
		}
		logger.Debug("docker api unavailable, trying cli", "err", err)

		runtime, rerr := DetectRuntime()
		if rerr != nil {
			return nil, fmt.Errorf("%w (api: %v)", rerr, err)
		}
		return NewCLI(runtime), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// DetectRuntime finds an available container runtime.
// Checks docker first, then podman. Verifies the binary actually works
// by running `<runtime> version`.
func DetectRuntime() (string, error) {
	for _, bin := range []string{"docker", "podman"} {
		if _, err := exec.LookPath(bin); err != nil {
			continue
		}
		cmd := exec.Command(bin, "version")
		if err := cmd.Run(); err != nil {
			continue
		}
		return bin, nil
	}
	return "", ErrNoRuntime
}
