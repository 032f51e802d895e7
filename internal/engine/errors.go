package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the engine has no such container or network
	ErrNotFound = errors.New("not found")

	// ErrNoRuntime is returned when no container runtime is found.
	ErrNoRuntime = errors.New("no container runtime found (need docker or podman)")

	// ErrUnknownBackend indicates an unsupported backend name
	ErrUnknownBackend = errors.New("unknown engine backend")
)

// Error wraps a failed engine RPC with the operation and its target.
// Engine errors are surfaced as-is and never retried.
type Error struct {
	Op       string
	Target   string
	NotFound bool
	Err      error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrNotFound for errors the engine flagged as missing objects.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.NotFound
}

func wrap(op, target string, err error, notFound bool) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Target: target, NotFound: notFound, Err: err}
}

// IsNotFound reports whether err means the object is already gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
