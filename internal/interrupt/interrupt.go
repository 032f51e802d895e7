// Package interrupt turns SIGINT/SIGTERM into one-shot process events: a
// first interrupt asks for a graceful teardown, a second forces it.
package interrupt

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Listener watches for interrupts
type Listener struct {
	signals     chan os.Signal
	interrupted chan struct{}
	forced      chan struct{}
	stopCh      chan struct{} // closed by Stop to signal goroutine to exit
	done        chan struct{} // closed when goroutine exits
	stopOnce    sync.Once
	onInterrupt []func()
	mu          sync.Mutex
	logger      *slog.Logger
}

// New creates a listener. It does nothing until started.
func New() *Listener {
	return &Listener{
		signals:     make(chan os.Signal, 2),
		interrupted: make(chan struct{}),
		forced:      make(chan struct{}),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		onInterrupt: make([]func(), 0),
		logger:      slog.Default(),
	}
}

// Start begins listening for signals
func (l *Listener) Start() {
	l.StartWithNotify(true)
}

// StartWithNotify begins listening for signals, optionally registering with OS signal handling.
// Pass false for notify in unit tests to avoid global signal state interactions.
func (l *Listener) StartWithNotify(notify bool) {
	if notify {
		signal.Notify(l.signals, syscall.SIGINT, syscall.SIGTERM)
	}

	started := make(chan struct{})
	go func() {
		defer close(l.done)
		close(started)

		// first signal
		select {
		case sig := <-l.signals:
			l.logger.Debug("received signal", "signal", sig.String())
			l.fire()
		case <-l.stopCh:
			return
		}

		// every later signal forces
		for {
			select {
			case sig := <-l.signals:
				l.logger.Debug("received signal, forcing", "signal", sig.String())
				l.force()
			case <-l.stopCh:
				return
			}
		}
	}()

	<-started
}

func (l *Listener) fire() {
	l.mu.Lock()
	callbacks := make([]func(), len(l.onInterrupt))
	copy(callbacks, l.onInterrupt)
	l.mu.Unlock()

	// Execute callbacks in registration order
	for _, fn := range callbacks {
		fn()
	}

	close(l.interrupted)
}

func (l *Listener) force() {
	l.mu.Lock()
	defer l.mu.Unlock()
	close(l.forced)
	l.forced = make(chan struct{})
}

// Interrupted is closed on the first interrupt, at most once per listener.
func (l *Listener) Interrupted() <-chan struct{} {
	return l.interrupted
}

// Forced returns a channel closed by the next interrupt after the first.
// Once it has closed, later calls return a fresh channel for the next one,
// so a phase only sees interrupts received after it asked.
func (l *Listener) Forced() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.forced
}

// OnInterrupt registers a callback run on the first interrupt, before
// Interrupted is closed.
func (l *Listener) OnInterrupt(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onInterrupt = append(l.onInterrupt, fn)
}

// Trigger delivers an interrupt as if one had been received.
func (l *Listener) Trigger() {
	select {
	case l.signals <- syscall.SIGINT:
	case <-l.stopCh:
	}
}

// Stop stops the listener and cleans up
func (l *Listener) Stop() {
	signal.Stop(l.signals)
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	select {
	case <-l.done:
	case <-time.After(100 * time.Millisecond):
	}
}
