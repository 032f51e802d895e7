package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RevCBH/dockboot/internal/container"
	"github.com/RevCBH/dockboot/internal/dialog"
	"github.com/RevCBH/dockboot/internal/engine"
)

// ErrInterrupted is returned by Run when an interrupt ended the run.
var ErrInterrupted = errors.New("run interrupted")

// drainGrace is how long the log relay may keep draining after the wait-set
// resolves before the exit counts as early.
const drainGrace = 200 * time.Millisecond

const earlyExitBanner = "CONTAINER EXITED EARLY: LOGS"

// Interrupter is a one-shot cancellation source. Interrupted closes on the
// first interrupt. Forced returns a channel closed by the next interrupt
// after that; once closed, later calls return a fresh channel.
type Interrupter interface {
	Interrupted() <-chan struct{}
	Forced() <-chan struct{}
}

type never struct{}

func (never) Interrupted() <-chan struct{} { return nil }
func (never) Forced() <-chan struct{}      { return nil }

// Interruptible returns a context cancelled with cause ErrInterrupted when
// intr fires.
func Interruptible(ctx context.Context, intr Interrupter) (context.Context, context.CancelFunc) {
	if intr == nil {
		intr = never{}
	}
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-intr.Interrupted():
			cancel(ErrInterrupted)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

func fired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// CleanupError collects every failure of the cleanup phase.
type CleanupError struct {
	Errs []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "cleanup: " + strings.Join(msgs, "; ")
}

func (e *CleanupError) Unwrap() []error {
	return e.Errs
}

// Handle is a built network and its containers. It owns the obligation to
// remove them, discharged once by Cleanup.
type Handle struct {
	eng        engine.Engine
	id         engine.NetworkID
	name       string
	runID      string
	containers []*container.Handle
	opts       options
	logger     *slog.Logger
	console    *dialog.Console

	// forced is the force channel armed when the cancellation notice
	// was printed
	forced <-chan struct{}

	cleanupOnce sync.Once
	cleanupErr  error
}

// ID returns the engine network id.
func (h *Handle) ID() engine.NetworkID {
	return h.id
}

func (h *Handle) Name() string {
	return h.name
}

// RunID returns the run id label shared by every resource of this build.
func (h *Handle) RunID() string {
	return h.runID
}

// Containers returns the created containers in spec order.
func (h *Handle) Containers() []*container.Handle {
	return slices.Clone(h.containers)
}

// Run starts every container, relays their logs until the wait-set
// resolves, the logs drain, or intr fires, then cleans up. Cleanup always
// runs; its error is joined to the run error, which takes precedence.
func (h *Handle) Run(ctx context.Context, intr Interrupter) (err error) {
	if intr == nil {
		intr = never{}
	}

	defer func() {
		cctx, cancel := h.cleanupContext(ctx, intr)
		defer cancel()

		if cerr := h.Cleanup(cctx); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				err = errors.Join(err, cerr)
			}
		}
	}()

	// an interrupt during the build leaves nothing to start
	if fired(intr.Interrupted()) {
		return h.interrupted(intr)
	}

	startCtx, stop := Interruptible(ctx, intr)
	err = h.start(startCtx)
	stop()
	if err != nil {
		if errors.Is(context.Cause(startCtx), ErrInterrupted) {
			return h.interrupted(intr)
		}
		return err
	}
	return h.observe(ctx, intr)
}

// start starts all containers concurrently. Every start is allowed to
// finish; the first error is kept.
func (h *Handle) start(ctx context.Context) error {
	h.logger.Debug("starting containers", "count", len(h.containers))

	var g errgroup.Group
	for _, c := range h.containers {
		g.Go(func() error {
			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (h *Handle) waitables() []container.Waitable {
	var ws []container.Waitable
	for _, c := range h.containers {
		if w, ok := c.Waitable(); ok {
			ws = append(ws, w)
		}
	}
	return ws
}

func (h *Handle) observe(ctx context.Context, intr Interrupter) error {
	obsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	relayDone := make(chan error, 1)
	go func() {
		relayDone <- h.relay(obsCtx)
	}()

	// an empty wait-set never resolves
	ws := h.waitables()
	var waitDone chan error
	if len(ws) > 0 {
		waitDone = make(chan error, 1)
		go func() {
			waitDone <- waitSet(obsCtx, ws)
		}()
	}

	stopRelay := func() {
		cancel()
		<-relayDone
	}

	select {
	case rerr := <-relayDone:
		if waitDone == nil {
			return rerr
		}
		if rerr != nil {
			h.logger.Warn("log relay failed", "error", rerr)
		}
		// exit status of waited containers decides the outcome
		select {
		case werr := <-waitDone:
			return werr
		case <-intr.Interrupted():
			return h.interrupted(intr)
		case <-ctx.Done():
			return ctx.Err()
		}

	case werr := <-waitDone:
		select {
		case <-relayDone:
			// drained naturally
			return werr
		case <-intr.Interrupted():
			stopRelay()
			return h.interrupted(intr)
		case <-time.After(drainGrace):
		}
		stopRelay()
		h.logger.Debug("wait-set resolved before logs drained", "error", werr)
		h.console.Banner(earlyExitBanner)
		h.snapshot(ctx)
		return werr

	case <-intr.Interrupted():
		stopRelay()
		return h.interrupted(intr)

	case <-ctx.Done():
		stopRelay()
		return ctx.Err()
	}
}

// interrupted prints the cancellation notice. Only interrupts received
// after the notice force the cleanup that follows.
func (h *Handle) interrupted(intr Interrupter) error {
	if h.forced == nil {
		h.forced = intr.Forced()
	}
	h.console.Canceling("interrupt", resourceKind(h.eng))
	return ErrInterrupted
}

func resourceKind(eng engine.Engine) string {
	if eng.Name() == engine.BackendAPI {
		return "docker"
	}
	return eng.Name()
}

// waitSet resolves on the first waited container to fail, or once every
// waited container has succeeded.
func waitSet(ctx context.Context, ws []container.Waitable) error {
	errc := make(chan error, len(ws))
	for _, w := range ws {
		go func() {
			errc <- w.Wait(ctx)
		}()
	}
	for range ws {
		if err := <-errc; err != nil {
			return err
		}
	}
	return nil
}

type logLine struct {
	speaker string
	rec     engine.LogRecord
}

// relay merges the followed logs of every container into one Dialogger
// until they all end or ctx is cancelled.
func (h *Handle) relay(ctx context.Context) error {
	streams := make([]engine.LogStream, 0, len(h.containers))
	closeAll := func() {
		for _, s := range streams {
			_ = s.Close()
		}
	}
	for _, c := range h.containers {
		s, err := c.Logs(ctx, true)
		if err != nil {
			closeAll()
			return fmt.Errorf("logs %s: %w", c.Name(), err)
		}
		streams = append(streams, s)
	}
	defer closeAll()
	stop := context.AfterFunc(ctx, closeAll)
	defer stop()

	lines := make(chan logLine)
	var g errgroup.Group
	for i, s := range streams {
		speaker := h.containers[i].Name()
		g.Go(func() error {
			for {
				rec, err := s.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("logs %s: %w", speaker, err)
				}
				select {
				case lines <- logLine{speaker: speaker, rec: rec}:
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	errc := make(chan error, 1)
	go func() {
		errc <- g.Wait()
		close(lines)
	}()

	d := h.console.Dialogger()
	for l := range lines {
		d.Log(l.speaker, l.rec.Kind, string(l.rec.Line))
	}
	d.End()
	return <-errc
}

// snapshot replays the logs each container has written so far.
func (h *Handle) snapshot(ctx context.Context) {
	d := h.console.Dialogger()
	defer d.End()

	for _, c := range h.containers {
		s, err := c.Logs(ctx, false)
		if err != nil {
			h.logger.Warn("log snapshot failed", "container", c.Name(), "error", err)
			continue
		}
		for {
			rec, err := s.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					h.logger.Warn("log snapshot failed", "container", c.Name(), "error", err)
				}
				break
			}
			d.Log(c.Name(), rec.Kind, string(rec.Line))
		}
		_ = s.Close()
	}
}

// Log prints the logs of every container. With follow it blocks until
// all containers exit or ctx is cancelled.
func (h *Handle) Log(ctx context.Context, follow bool) error {
	if follow {
		return h.relay(ctx)
	}
	h.snapshot(ctx)
	return nil
}

// cleanupContext detaches cleanup from ctx so a cancelled run still cleans
// up. The cleanup timeout aborts it, as does an interrupt received after
// the cancellation notice or, without a notice, after cleanup began.
func (h *Handle) cleanupContext(ctx context.Context, intr Interrupter) (context.Context, context.CancelFunc) {
	forced := h.forced
	if forced == nil {
		forced = intr.Forced()
	}

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if h.opts.cleanupTimeout > 0 {
		var cancelTimeout context.CancelFunc
		cctx, cancelTimeout = context.WithTimeout(cctx, h.opts.cleanupTimeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	go func() {
		select {
		case <-forced:
			h.logger.Warn("forced interrupt, aborting cleanup")
			cancel()
		case <-cctx.Done():
		}
	}()
	return cctx, cancel
}

// Cleanup removes every container concurrently, then the network. It runs
// at most once; later calls return the first result. Resources that are
// already gone count as removed.
func (h *Handle) Cleanup(ctx context.Context) error {
	h.cleanupOnce.Do(func() {
		h.cleanupErr = h.cleanup(ctx)
	})
	return h.cleanupErr
}

func (h *Handle) cleanup(ctx context.Context) error {
	h.logger.Debug("cleaning up", "containers", len(h.containers))

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, c := range h.containers {
		g.Go(func() error {
			if h.opts.stopTimeout > 0 {
				if err := c.Stop(ctx, h.opts.stopTimeout); err != nil && !engine.IsNotFound(err) {
					h.logger.Debug("stop before remove failed", "container", c.Name(), "error", err)
				}
			}
			if err := c.Remove(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("remove container %s: %w", c.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if h.id != "" {
		if err := h.eng.RemoveNetwork(ctx, h.id); err != nil && !engine.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("remove network %s: %w", h.name, err))
		}
	}

	if len(errs) > 0 {
		return &CleanupError{Errs: errs}
	}
	return nil
}
