// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/RevCBH/dockboot/internal/engine"
)

// Behavior scripts how a fake container acts once started, keyed by
// container name.
type Behavior struct {
	// ExitCode is reported by Wait after the container exits
	ExitCode int
	Message  string

	// Delay is how long the container runs after start
	Delay time.Duration

	// Forever keeps the container running until it is removed
	Forever bool

	Stdout []string
	Stderr []string

	CreateErr error
	StartErr  error
	RemoveErr error

	// RemoveHang blocks removal until the context is done
	RemoveHang bool
}

// Call records one engine RPC.
type Call struct {
	Op     string
	Target string
}

// FakeContainer is the fake engine's state for one container.
type FakeContainer struct {
	ID      engine.ContainerID
	Config  engine.ContainerConfig
	Started bool
	Removed bool

	exitCode int
	message  string
	exited   chan struct{}
	exitOnce sync.Once
}

func (c *FakeContainer) exit(code int, msg string) {
	c.exitOnce.Do(func() {
		c.exitCode = code
		c.message = msg
		close(c.exited)
	})
}

// FakeEngine is an in-memory engine.Engine with scripted containers.
type FakeEngine struct {
	mu         sync.Mutex
	nextID     int
	calls      []Call
	containers map[engine.ContainerID]*FakeContainer
	networks   map[engine.NetworkID]engine.NetworkConfig

	// Behaviors maps container names to scripted behavior
	Behaviors map[string]Behavior

	NetworkErr       error
	NetworkWarning   string
	RemoveNetworkErr error
	BuildErr         error
	BuildDelay       time.Duration

	// ExecOutput is written by Exec, ExecCode returned
	ExecOutput string
	ExecCode   int
}

// NewFakeEngine returns an empty fake engine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		containers: make(map[engine.ContainerID]*FakeContainer),
		networks:   make(map[engine.NetworkID]engine.NetworkConfig),
		Behaviors:  make(map[string]Behavior),
	}
}

func (f *FakeEngine) record(op, target string) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Target: target})
	f.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (f *FakeEngine) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times op was invoked.
func (f *FakeEngine) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Container looks a container up by name.
func (f *FakeEngine) Container(name string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Config.Name == name {
			return c
		}
	}
	return nil
}

// Networks returns the names of networks that still exist.
func (f *FakeEngine) Networks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, n := range f.networks {
		names = append(names, n.Name)
	}
	return names
}

func (f *FakeEngine) lookup(id engine.ContainerID) (*FakeContainer, Behavior, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok || c.Removed {
		return nil, Behavior{}, &engine.Error{Op: "lookup", Target: string(id), NotFound: true, Err: fmt.Errorf("no such container: %s", id)}
	}
	return c, f.Behaviors[c.Config.Name], nil
}

func (f *FakeEngine) Name() string {
	return "fake"
}

func (f *FakeEngine) CreateNetwork(ctx context.Context, cfg engine.NetworkConfig) (engine.NetworkID, string, error) {
	f.record("CreateNetwork", cfg.Name)
	if err := ctxErr(ctx, "create network", cfg.Name); err != nil {
		return "", "", err
	}
	if f.NetworkErr != nil {
		return "", "", f.NetworkErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := engine.NetworkID(fmt.Sprintf("net-%d", f.nextID))
	f.networks[id] = cfg
	return id, f.NetworkWarning, nil
}

func (f *FakeEngine) RemoveNetwork(ctx context.Context, id engine.NetworkID) error {
	f.record("RemoveNetwork", string(id))
	if err := ctxErr(ctx, "remove network", string(id)); err != nil {
		return err
	}
	if f.RemoveNetworkErr != nil {
		return f.RemoveNetworkErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.networks[id]; !ok {
		return &engine.Error{Op: "remove network", Target: string(id), NotFound: true, Err: fmt.Errorf("no such network")}
	}
	delete(f.networks, id)
	return nil
}

func (f *FakeEngine) ListNetworks(ctx context.Context, labels map[string]string) ([]engine.Resource, error) {
	f.record("ListNetworks", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engine.Resource
	for id, n := range f.networks {
		if matches(n.Labels, labels) {
			out = append(out, engine.Resource{ID: string(id), Name: n.Name, Labels: n.Labels})
		}
	}
	return out, nil
}

func (f *FakeEngine) CreateContainer(ctx context.Context, cfg engine.ContainerConfig) (engine.ContainerID, error) {
	f.record("CreateContainer", cfg.Name)
	if err := ctxErr(ctx, "create container", cfg.Name); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if b := f.Behaviors[cfg.Name]; b.CreateErr != nil {
		return "", b.CreateErr
	}
	for _, c := range f.containers {
		if c.Config.Name == cfg.Name && !c.Removed {
			return "", fmt.Errorf("container name %q already in use", cfg.Name)
		}
	}

	f.nextID++
	id := engine.ContainerID(fmt.Sprintf("ctr-%d", f.nextID))
	f.containers[id] = &FakeContainer{ID: id, Config: cfg, exited: make(chan struct{})}
	return id, nil
}

func (f *FakeEngine) StartContainer(ctx context.Context, id engine.ContainerID) error {
	f.record("StartContainer", string(id))
	if err := ctxErr(ctx, "start container", string(id)); err != nil {
		return err
	}
	c, b, err := f.lookup(id)
	if err != nil {
		return err
	}
	if b.StartErr != nil {
		return b.StartErr
	}

	f.mu.Lock()
	if c.Started {
		f.mu.Unlock()
		return fmt.Errorf("container %s already started", id)
	}
	c.Started = true
	f.mu.Unlock()

	if !b.Forever {
		go func() {
			if b.Delay > 0 {
				select {
				case <-time.After(b.Delay):
				case <-c.exited:
					return
				}
			}
			c.exit(b.ExitCode, b.Message)
		}()
	}
	return nil
}

func (f *FakeEngine) StopContainer(ctx context.Context, id engine.ContainerID, timeout time.Duration) error {
	f.record("StopContainer", string(id))
	c, _, err := f.lookup(id)
	if err != nil {
		return err
	}
	c.exit(143, "stopped")
	return nil
}

func (f *FakeEngine) RemoveContainer(ctx context.Context, id engine.ContainerID) error {
	f.record("RemoveContainer", string(id))
	if err := ctxErr(ctx, "remove container", string(id)); err != nil {
		return err
	}
	c, b, err := f.lookup(id)
	if err != nil {
		return err
	}
	if b.RemoveErr != nil {
		return b.RemoveErr
	}
	if b.RemoveHang {
		<-ctx.Done()
		return &engine.Error{Op: "remove container", Target: string(id), Err: ctx.Err()}
	}

	f.mu.Lock()
	c.Removed = true
	f.mu.Unlock()
	c.exit(137, "killed")
	return nil
}

func (f *FakeEngine) ListContainers(ctx context.Context, labels map[string]string) ([]engine.Resource, error) {
	f.record("ListContainers", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engine.Resource
	for id, c := range f.containers {
		if !c.Removed && matches(c.Config.Labels, labels) {
			out = append(out, engine.Resource{ID: string(id), Name: c.Config.Name, Labels: c.Config.Labels})
		}
	}
	return out, nil
}

func (f *FakeEngine) Logs(ctx context.Context, id engine.ContainerID, follow bool) (engine.LogStream, error) {
	f.record("Logs", string(id))
	c, b, err := f.lookup(id)
	if err != nil {
		return nil, err
	}

	var recs []engine.LogRecord
	for _, l := range b.Stdout {
		recs = append(recs, engine.LogRecord{Kind: engine.Stdout, Line: []byte(l)})
	}
	for _, l := range b.Stderr {
		recs = append(recs, engine.LogRecord{Kind: engine.Stderr, Line: []byte(l)})
	}

	s := &fakeStream{ctx: ctx, records: recs, closed: make(chan struct{})}
	if follow {
		s.until = c.exited
	}
	return s, nil
}

func (f *FakeEngine) Wait(ctx context.Context, id engine.ContainerID) (engine.WaitResult, error) {
	f.record("Wait", string(id))
	c, _, err := f.lookup(id)
	if err != nil {
		return engine.WaitResult{}, err
	}

	select {
	case <-c.exited:
		return engine.WaitResult{ExitCode: c.exitCode, Message: c.message}, nil
	case <-ctx.Done():
		return engine.WaitResult{}, &engine.Error{Op: "wait container", Target: string(id), Err: ctx.Err()}
	}
}

func (f *FakeEngine) Exec(ctx context.Context, id engine.ContainerID, cmd []string, out io.Writer) (int, error) {
	f.record("Exec", string(id))
	if _, _, err := f.lookup(id); err != nil {
		return -1, err
	}
	_, _ = io.WriteString(out, f.ExecOutput)
	return f.ExecCode, nil
}

func (f *FakeEngine) BuildImage(ctx context.Context, buildContext io.Reader, tag string) (string, error) {
	f.record("BuildImage", tag)
	_, _ = io.Copy(io.Discard, buildContext)
	if f.BuildDelay > 0 {
		select {
		case <-time.After(f.BuildDelay):
		case <-ctx.Done():
			return "", &engine.Error{Op: "build image", Target: tag, Err: ctx.Err()}
		}
	}
	if f.BuildErr != nil {
		return "", f.BuildErr
	}
	return fmt.Sprintf("sha256:built-%d", f.CallCount("BuildImage")), nil
}

func (f *FakeEngine) PullImage(ctx context.Context, ref string) error {
	f.record("PullImage", ref)
	return nil
}

func (f *FakeEngine) Close() error {
	return nil
}

// ctxErr fails an RPC issued on a done context, as a real engine would.
func ctxErr(ctx context.Context, op, target string) error {
	if err := ctx.Err(); err != nil {
		return &engine.Error{Op: op, Target: target, Err: err}
	}
	return nil
}

func matches(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// fakeStream yields scripted records, then ends when the container exits
// (follow) or immediately (snapshot).
type fakeStream struct {
	ctx       context.Context
	mu        sync.Mutex
	records   []engine.LogRecord
	until     <-chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeStream) Recv() (engine.LogRecord, error) {
	s.mu.Lock()
	if len(s.records) > 0 {
		rec := s.records[0]
		s.records = s.records[1:]
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	if s.until == nil {
		return engine.LogRecord{}, io.EOF
	}
	select {
	case <-s.until:
		return engine.LogRecord{}, io.EOF
	case <-s.closed:
		return engine.LogRecord{}, io.EOF
	case <-s.ctx.Done():
		return engine.LogRecord{}, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

var _ engine.Engine = (*FakeEngine)(nil)
