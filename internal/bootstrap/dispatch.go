package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"github.com/RevCBH/dockboot/internal/container"
	"github.com/RevCBH/dockboot/internal/engine"
	"github.com/RevCBH/dockboot/internal/network"
)

// Task is the work a worker performs inside its container.
type Task func(ctx context.Context) error

// Entry pairs a container with the task its worker runs.
type Entry struct {
	Spec container.Spec
	Task Task
}

// Perform is an entry whose worker does nothing and exits successfully.
func Perform(spec container.Spec) Entry {
	return Entry{Spec: spec}
}

// Run is an entry whose worker runs task.
func Run(spec container.Spec, task Task) Entry {
	return Entry{Spec: spec, Task: task}
}

// PanicError is a task panic turned into an error, so the container exits
// non-zero instead of the panic being lost.
type PanicError struct {
	Ordinal int
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %d panicked: %v", e.Ordinal, e.Value)
}

// Dispatcher runs either the master or one worker, depending on Role.
type Dispatcher struct {
	Role Role

	// Engine opens the engine. Workers never call it.
	Engine func(ctx context.Context) (engine.Engine, error)

	// Executable is re-run in every container (default: os.Executable)
	Executable string

	// Args are passed to every worker after the executable path
	Args []string

	// Out receives run output (default: os.Stdout)
	Out io.Writer

	Interrupt      network.Interrupter
	Logger         *slog.Logger
	NetworkOptions []network.Option
}

// Dispatch runs the network name built from entries. A worker runs only
// the task at its ordinal.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, entries []Entry) error {
	if i, ok := d.Role.Ordinal(); ok {
		return d.work(ctx, i, entries)
	}
	return d.master(ctx, name, entries)
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) work(ctx context.Context, i int, entries []Entry) error {
	if i >= len(entries) {
		return &ConfigError{
			Field:   EnvVar,
			Value:   strconv.Itoa(i),
			Message: fmt.Sprintf("no task at this ordinal (have %d)", len(entries)),
		}
	}

	d.logger().Debug("running task", "ordinal", i, "container", entries[i].Spec.Name())
	return runTask(ctx, i, entries[i].Task)
}

func runTask(ctx context.Context, i int, task Task) (err error) {
	if task == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Ordinal: i, Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

// Spec returns the network spec the master builds: every container
// re-runs exe with args and its ordinal in EnvVar.
func Spec(name, exe string, args []string, entries []Entry) network.Spec {
	cmd := append([]string{path.Join(TargetDir, filepath.Base(exe))}, args...)

	spec := network.NewSpec(name)
	for i, e := range entries {
		spec = spec.Add(e.Spec.
			WithEnv(EnvVar, strconv.Itoa(i)).
			WithBindExeDir(exe, TargetDir).
			WithCmd(cmd...))
	}
	return spec
}

func (d *Dispatcher) master(ctx context.Context, name string, entries []Entry) error {
	out := d.Out
	if out == nil {
		out = os.Stdout
	}

	exe := d.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}

	spec := Spec(name, exe, d.Args, entries)
	for range entries {
		fmt.Fprintf(out, "binding %s --> %s\n", filepath.Dir(exe), TargetDir)
	}

	if d.Engine == nil {
		return errors.New("bootstrap: no engine configured")
	}
	eng, err := d.Engine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	opts := append([]network.Option{network.WithOutput(out), network.WithLogger(d.logger())}, d.NetworkOptions...)
	h, err := spec.Provision(ctx, eng, d.Interrupt, opts...)
	if err != nil {
		return err
	}

	return h.Run(ctx, d.Interrupt)
}
