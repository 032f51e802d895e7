package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/RevCBH/dockboot/internal/dialog"
	"github.com/RevCBH/dockboot/internal/engine"
)

// ExitError reports a container or exec that exited non-zero.
type ExitError struct {
	Name    string
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("container %s exited with code %d", e.Name, e.Code)
	if e.Message != "" {
		msg += " " + e.Message
	}
	return msg
}

// ErrNotWaitable is returned by a Waitable that did not come from
// Handle.Waitable.
var ErrNotWaitable = errors.New("container is not waitable")

// Handle is a created container.
type Handle struct {
	eng    engine.Engine
	id     engine.ContainerID
	name   string
	waited bool
	logger *slog.Logger
}

// Create resolves the image of f and creates the container. The container
// is not started.
func Create(ctx context.Context, eng engine.Engine, f Frozen) (*Handle, error) {
	logger := slog.Default().With("container", f.Name())

	ref, err := f.Source().Resolve(ctx, eng)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", f.Name(), err)
	}

	logger.Debug("creating container", "image", ref.String())
	id, err := eng.CreateContainer(ctx, f.Config(ref))
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", f.Name(), err)
	}

	return &Handle{eng: eng, id: id, name: f.Name(), waited: f.Waited(), logger: logger}, nil
}

// Attach returns a handle for an existing container by id or name. The
// handle is not waited.
func Attach(eng engine.Engine, idOrName string) *Handle {
	return &Handle{
		eng:    eng,
		id:     engine.ContainerID(idOrName),
		name:   idOrName,
		logger: slog.Default().With("container", idOrName),
	}
}

func (h *Handle) ID() engine.ContainerID {
	return h.id
}

func (h *Handle) Name() string {
	return h.name
}

// Waited reports whether a network run waits for this container.
func (h *Handle) Waited() bool {
	return h.waited
}

// Start starts the container. Starting a running container is an engine
// error, returned unchanged.
func (h *Handle) Start(ctx context.Context) error {
	h.logger.Debug("starting container")
	return h.eng.StartContainer(ctx, h.id)
}

// Logs opens a new log stream from the beginning of the container output.
func (h *Handle) Logs(ctx context.Context, follow bool) (engine.LogStream, error) {
	return h.eng.Logs(ctx, h.id, follow)
}

// Waitable returns the wait capability of a waited handle.
func (h *Handle) Waitable() (Waitable, bool) {
	if !h.waited {
		return Waitable{}, false
	}
	return Waitable{h: h}, true
}

// Remove force-removes the container. A container that is already gone
// counts as removed.
func (h *Handle) Remove(ctx context.Context) error {
	h.logger.Debug("removing container")
	err := h.eng.RemoveContainer(ctx, h.id)
	if engine.IsNotFound(err) {
		return nil
	}
	return err
}

// Stop asks the container to stop, killing it after timeout.
func (h *Handle) Stop(ctx context.Context, timeout time.Duration) error {
	h.logger.Debug("stopping container", "timeout", timeout)
	return h.eng.StopContainer(ctx, h.id, timeout)
}

// Exec runs cmd in the running container, copying its output to out.
func (h *Handle) Exec(ctx context.Context, cmd []string, out io.Writer) error {
	h.logger.Debug("exec", "cmd", cmd)
	code, err := h.eng.Exec(ctx, h.id, cmd, out)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Name: h.name, Code: code, Message: "exec " + strings.Join(cmd, " ")}
	}
	return nil
}

func (h *Handle) wait(ctx context.Context) error {
	res, err := h.eng.Wait(ctx, h.id)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ExitError{Name: h.name, Code: res.ExitCode, Message: res.Message}
	}
	return nil
}

// Waitable is the wait capability of a waited handle. It can only be
// obtained from Handle.Waitable.
type Waitable struct {
	h *Handle
}

// Handle returns the underlying handle.
func (w Waitable) Handle() *Handle {
	return w.h
}

// Wait blocks until the container stops running. A non-zero exit is
// returned as *ExitError.
func (w Waitable) Wait(ctx context.Context) error {
	if w.h == nil {
		return ErrNotWaitable
	}
	w.h.logger.Debug("waiting for container")
	return w.h.wait(ctx)
}

// RunAttached starts h, relays its followed logs through d until they end,
// then waits for the exit status.
func RunAttached(ctx context.Context, h *Handle, d *dialog.Dialogger) error {
	if err := h.Start(ctx); err != nil {
		return err
	}

	stream, err := h.Logs(ctx, true)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		rec, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			d.End()
			return err
		}
		d.Log(h.name, rec.Kind, string(rec.Line))
	}
	d.End()

	return h.wait(ctx)
}
