// Package engine is the thin client layer between dockboot and a container
// engine. Two backends are provided: the Docker Engine API and the
// docker/podman command line.
package engine

import (
	"context"
	"io"
	"time"
)

// ContainerID is the engine-assigned identifier of a container.
type ContainerID string

// NetworkID is the engine-assigned identifier of a network.
type NetworkID string

// Labels applied to every resource dockboot creates, so leftovers can be
// found again after a forced abort.
const (
	LabelManagedBy = "dockboot.managed-by"
	LabelRunID     = "dockboot.run-id"
	ManagedByValue = "dockboot"
)

// ContainerConfig specifies container creation parameters.
type ContainerConfig struct {
	// Name is the container name, unique within a run
	Name string

	// Image is the image reference or id
	Image string

	// Cmd overrides the image command when non-empty
	Cmd []string

	// Env holds ordered "KEY=VALUE" assignments
	Env []string

	// Binds holds ordered "host:container" bind mounts
	Binds []string

	// Network is the network the container joins (empty = engine default)
	Network string

	// TTY allocates a terminal; stdout and stderr are then merged
	TTY bool

	Labels map[string]string
}

// NetworkConfig specifies network creation parameters.
type NetworkConfig struct {
	Name   string
	Driver string
	Labels map[string]string
}

// LogKind tells which output stream a log line came from.
type LogKind int

const (
	Stdout LogKind = iota
	Stderr
)

func (k LogKind) String() string {
	if k == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LogRecord is a single log line, without its trailing newline.
type LogRecord struct {
	Kind LogKind
	Line []byte
}

// LogStream is a lazily consumed sequence of log records.
type LogStream interface {
	// Recv returns the next record, or io.EOF once the stream has drained.
	Recv() (LogRecord, error)

	// Close releases the stream. A pending Recv returns promptly.
	Close() error
}

// WaitResult is reported once a container is no longer running.
type WaitResult struct {
	ExitCode int
	Message  string
}

// Resource identifies a listed container or network.
type Resource struct {
	ID     string
	Name   string
	Labels map[string]string
}

// Engine is the RPC surface dockboot needs from a container engine.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Name identifies the backend ("api", "docker", "podman")
	Name() string

	CreateNetwork(ctx context.Context, cfg NetworkConfig) (id NetworkID, warning string, err error)
	RemoveNetwork(ctx context.Context, id NetworkID) error
	ListNetworks(ctx context.Context, labels map[string]string) ([]Resource, error)

	// CreateContainer creates a container but does not start it.
	CreateContainer(ctx context.Context, cfg ContainerConfig) (ContainerID, error)
	StartContainer(ctx context.Context, id ContainerID) error
	StopContainer(ctx context.Context, id ContainerID, timeout time.Duration) error

	// RemoveContainer force-removes a container whatever its state.
	RemoveContainer(ctx context.Context, id ContainerID) error
	ListContainers(ctx context.Context, labels map[string]string) ([]Resource, error)

	// Logs opens an independent log stream from the start of the container
	// output. With follow set the stream ends only when the container exits.
	Logs(ctx context.Context, id ContainerID, follow bool) (LogStream, error)

	// Wait blocks until the container is no longer running.
	Wait(ctx context.Context, id ContainerID) (WaitResult, error)

	// Exec runs cmd in a running container, copying its combined output to
	// out until it completes.
	Exec(ctx context.Context, id ContainerID, cmd []string, out io.Writer) (exitCode int, err error)

	// BuildImage builds an image from a gzip-compressed tar build context
	// holding a Dockerfile and returns the image id.
	BuildImage(ctx context.Context, buildContext io.Reader, tag string) (string, error)
	PullImage(ctx context.Context, ref string) error

	Close() error
}
