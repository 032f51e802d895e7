// Package bootstrap lets one executable act as both the orchestrator of a
// container network and the workload inside each of its containers.
//
// The master re-runs its own executable in every container, bind-mounted
// at TargetDir, with EnvVar set to the container's ordinal. Each worker
// then runs only the task registered at that ordinal.
package bootstrap

import (
	"fmt"
	"strconv"
)

const (
	// EnvVar carries the worker ordinal into a container.
	EnvVar = "__RUNNER_ENV"

	// TargetDir is where the executable's directory is mounted.
	TargetDir = "/tmp/target"
)

// ConfigError reports a bootstrap environment that this process cannot
// have been launched with by a master. It is fatal.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bootstrap %s=%q: %s", e.Field, e.Value, e.Message)
}

// Role is either the master or a worker bound to one ordinal.
type Role struct {
	worker  bool
	ordinal int
}

// Master is the orchestrating role.
func Master() Role {
	return Role{}
}

// Worker is the role of the process running task i.
func Worker(i int) Role {
	return Role{worker: true, ordinal: i}
}

func (r Role) IsMaster() bool {
	return !r.worker
}

// Ordinal returns the worker ordinal; ok is false for the master.
func (r Role) Ordinal() (i int, ok bool) {
	return r.ordinal, r.worker
}

func (r Role) String() string {
	if r.worker {
		return fmt.Sprintf("worker %d", r.ordinal)
	}
	return "master"
}

// Resolve derives the role from EnvVar using lookup, typically
// os.LookupEnv.
func Resolve(lookup func(string) (string, bool)) (Role, error) {
	v, ok := lookup(EnvVar)
	if !ok {
		return Master(), nil
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		return Role{}, &ConfigError{Field: EnvVar, Value: v, Message: "not an integer ordinal"}
	}
	if i < 0 {
		return Role{}, &ConfigError{Field: EnvVar, Value: v, Message: "ordinal must not be negative"}
	}
	return Worker(i), nil
}
