// Package network builds a container network and drives one run of its
// containers: start, observe, clean up.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/RevCBH/dockboot/internal/container"
	"github.com/RevCBH/dockboot/internal/dialog"
	"github.com/RevCBH/dockboot/internal/engine"
)

// DefaultDriver is the network driver used when none is set.
const DefaultDriver = "bridge"

// Spec describes a network and the containers created on it. Like
// container.Spec it is an immutable value.
type Spec struct {
	name       string
	driver     string
	labels     map[string]string
	containers []container.Spec
}

// NewSpec creates an empty network spec.
func NewSpec(name string) Spec {
	return Spec{name: name, driver: DefaultDriver}
}

func (s Spec) WithDriver(driver string) Spec {
	if driver == "" {
		driver = DefaultDriver
	}
	s.driver = driver
	return s
}

func (s Spec) WithLabel(key, value string) Spec {
	s.labels = maps.Clone(s.labels)
	if s.labels == nil {
		s.labels = make(map[string]string)
	}
	s.labels[key] = value
	return s
}

// WithContainers appends containers in order.
func (s Spec) WithContainers(cs ...container.Spec) Spec {
	s.containers = append(slices.Clip(s.containers), cs...)
	return s
}

// Add appends one container.
func (s Spec) Add(c container.Spec) Spec {
	return s.WithContainers(c)
}

func (s Spec) Name() string {
	return s.name
}

// Containers returns the container specs in order.
func (s Spec) Containers() []container.Spec {
	return slices.Clone(s.containers)
}

type options struct {
	out            io.Writer
	color          string
	logger         *slog.Logger
	cleanupTimeout time.Duration
	stopTimeout    time.Duration
	runID          string
}

// Option configures Build and the returned Handle.
type Option func(*options)

// WithOutput sets where logs and notices are written (default stdout).
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithColor sets the colour mode: auto, always or never.
func WithColor(mode string) Option {
	return func(o *options) { o.color = mode }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCleanupTimeout bounds the cleanup phase. Zero means no bound.
func WithCleanupTimeout(d time.Duration) Option {
	return func(o *options) { o.cleanupTimeout = d }
}

// WithStopTimeout stops containers gracefully for up to d before they are
// removed. Zero removes them straight away.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}

// WithRunID overrides the generated run id label.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// BuildError reports a failed Build. Partial holds whatever was created
// and must be cleaned up; it is nil when the network itself failed.
type BuildError struct {
	Err     error
	Partial *Handle
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build network: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Build creates the network, then every container attached to it
// concurrently.
func (s Spec) Build(ctx context.Context, eng engine.Engine, opts ...Option) (*Handle, error) {
	o := options{out: os.Stdout, color: dialog.ColorAuto, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	logger := o.logger.With("network", s.name, "run_id", o.runID)
	console := dialog.NewConsole(o.out, o.color)

	labels := maps.Clone(s.labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[engine.LabelManagedBy] = engine.ManagedByValue
	labels[engine.LabelRunID] = o.runID

	logger.Debug("creating network", "driver", s.driver)
	id, warning, err := eng.CreateNetwork(ctx, engine.NetworkConfig{Name: s.name, Driver: s.driver, Labels: labels})
	if err != nil {
		return nil, &BuildError{Err: fmt.Errorf("create network %s: %w", s.name, err)}
	}
	if warning != "" {
		logger.Warn("engine warning", "warning", warning)
		console.Warning(warning)
	}

	h := &Handle{
		eng:     eng,
		id:      id,
		name:    s.name,
		runID:   o.runID,
		opts:    o,
		logger:  logger,
		console: console,
	}

	created := make([]*container.Handle, len(s.containers))
	var g errgroup.Group
	for i, cs := range s.containers {
		cs = cs.WithNetwork(string(id)).
			WithLabel(engine.LabelManagedBy, engine.ManagedByValue).
			WithLabel(engine.LabelRunID, o.runID)
		g.Go(func() error {
			c, err := container.Create(ctx, eng, cs.Finalize())
			if err != nil {
				return err
			}
			created[i] = c
			return nil
		})
	}
	err = g.Wait()

	for _, c := range created {
		if c != nil {
			h.containers = append(h.containers, c)
		}
	}
	if err != nil {
		return nil, &BuildError{Err: err, Partial: h}
	}

	logger.Debug("network built", "containers", len(h.containers))
	return h, nil
}

// Provision builds s like Build but gives up as soon as intr fires.
// Whatever a failed or interrupted build created is removed before it
// returns, so the caller only ever owns a complete Handle.
func (s Spec) Provision(ctx context.Context, eng engine.Engine, intr Interrupter, opts ...Option) (*Handle, error) {
	if intr == nil {
		intr = never{}
	}

	bctx, stop := Interruptible(ctx, intr)
	defer stop()

	h, err := s.Build(bctx, eng, opts...)
	if err == nil {
		return h, nil
	}
	interrupted := errors.Is(context.Cause(bctx), ErrInterrupted)

	var buildErr *BuildError
	if !errors.As(err, &buildErr) || buildErr.Partial == nil {
		if interrupted {
			return nil, ErrInterrupted
		}
		return nil, err
	}

	partial := buildErr.Partial
	if interrupted {
		err = partial.interrupted(intr)
	}
	cctx, cancel := partial.cleanupContext(ctx, intr)
	defer cancel()
	if cerr := partial.Cleanup(cctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return nil, err
}
