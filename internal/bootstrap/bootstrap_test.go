package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/dockboot/internal/container"
	"github.com/RevCBH/dockboot/internal/engine"
	"github.com/RevCBH/dockboot/internal/image"
	"github.com/RevCBH/dockboot/internal/interrupt"
	"github.com/RevCBH/dockboot/internal/network"
	"github.com/RevCBH/dockboot/internal/testutil"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		want    Role
		wantErr bool
	}{
		{name: "absent is master", vars: nil, want: Master()},
		{name: "zero", vars: map[string]string{EnvVar: "0"}, want: Worker(0)},
		{name: "ordinal", vars: map[string]string{EnvVar: "2"}, want: Worker(2)},
		{name: "empty", vars: map[string]string{EnvVar: ""}, wantErr: true},
		{name: "negative", vars: map[string]string{EnvVar: "-1"}, wantErr: true},
		{name: "garbage", vars: map[string]string{EnvVar: "abc"}, wantErr: true},
		{name: "padded", vars: map[string]string{EnvVar: " 1"}, wantErr: true},
		{name: "other vars ignored", vars: map[string]string{"HOME": "/root"}, want: Master()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := Resolve(env(tt.vars))

			if tt.wantErr {
				var cfgErr *ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, EnvVar, cfgErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, role)
		})
	}
}

func TestRole(t *testing.T) {
	assert.True(t, Master().IsMaster())
	assert.Equal(t, "master", Master().String())
	_, ok := Master().Ordinal()
	assert.False(t, ok)

	w := Worker(3)
	assert.False(t, w.IsMaster())
	assert.Equal(t, "worker 3", w.String())
	i, ok := w.Ordinal()
	assert.True(t, ok)
	assert.Equal(t, 3, i)
}

// recorder tracks which tasks ran.
type recorder struct {
	mu  sync.Mutex
	ran []int
}

func (r *recorder) task(i int) Task {
	return func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ran = append(r.ran, i)
		return nil
	}
}

func entries(r *recorder) []Entry {
	src := image.Ref("alpine")
	return []Entry{
		Run(container.New("t0", src).WithWait(true), r.task(0)),
		Run(container.New("t1", src).WithWait(true), r.task(1)),
		Run(container.New("t2", src).WithWait(true), r.task(2)),
	}
}

func TestWorkerRunsOnlyItsTask(t *testing.T) {
	r := &recorder{}
	engineCalls := 0
	d := &Dispatcher{
		Role: Worker(1),
		Engine: func(ctx context.Context) (engine.Engine, error) {
			engineCalls++
			return testutil.NewFakeEngine(), nil
		},
	}

	err := d.Dispatch(context.Background(), "net", entries(r))

	require.NoError(t, err)
	assert.Equal(t, []int{1}, r.ran)
	assert.Equal(t, 0, engineCalls)
}

func TestWorkerOrdinalOutOfRange(t *testing.T) {
	r := &recorder{}
	d := &Dispatcher{Role: Worker(3)}

	err := d.Dispatch(context.Background(), "net", entries(r))

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "3", cfgErr.Value)
	assert.Empty(t, r.ran)
}

func TestWorkerTaskOutcome(t *testing.T) {
	src := image.Ref("alpine")

	t.Run("error", func(t *testing.T) {
		d := &Dispatcher{Role: Worker(0)}
		err := d.Dispatch(context.Background(), "net", []Entry{
			Run(container.New("a", src), func(ctx context.Context) error { return errors.New("bad") }),
		})
		assert.EqualError(t, err, "bad")
	})

	t.Run("panic", func(t *testing.T) {
		d := &Dispatcher{Role: Worker(0)}
		err := d.Dispatch(context.Background(), "net", []Entry{
			Run(container.New("a", src), func(ctx context.Context) error { panic("kaboom") }),
		})

		var panicErr *PanicError
		require.ErrorAs(t, err, &panicErr)
		assert.Equal(t, "kaboom", panicErr.Value)
		assert.NotEmpty(t, panicErr.Stack)
		assert.Equal(t, "task 0 panicked: kaboom", err.Error())
	})

	t.Run("perform", func(t *testing.T) {
		d := &Dispatcher{Role: Worker(0)}
		assert.NoError(t, d.Dispatch(context.Background(), "net", []Entry{Perform(container.New("a", src))}))
	})
}

func TestSpecInjectsReexec(t *testing.T) {
	r := &recorder{}
	spec := Spec("net", "/opt/app/bin/hello", []string{"--flag", "x"}, entries(r))

	eng := testutil.NewFakeEngine()
	h, err := spec.Build(context.Background(), eng, network.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	defer h.Cleanup(context.Background())

	for i, name := range []string{"t0", "t1", "t2"} {
		cfg := eng.Container(name).Config
		assert.Contains(t, cfg.Env, EnvVar+"="+strconv.Itoa(i))
		assert.Equal(t, []string{"/opt/app/bin:/tmp/target"}, cfg.Binds)
		assert.Equal(t, []string{"/tmp/target/hello", "--flag", "x"}, cfg.Cmd)
	}
	assert.Empty(t, r.ran)
}

func TestMasterRunsNetwork(t *testing.T) {
	r := &recorder{}
	eng := testutil.NewFakeEngine()
	var out bytes.Buffer
	d := &Dispatcher{
		Role:       Master(),
		Engine:     func(ctx context.Context) (engine.Engine, error) { return eng, nil },
		Executable: "/opt/app/bin/hello",
		Out:        &out,
		NetworkOptions: []network.Option{
			network.WithColor("never"),
		},
	}

	err := d.Dispatch(context.Background(), "net", entries(r))

	require.NoError(t, err)
	assert.Empty(t, r.ran, "master runs no task")
	assert.Contains(t, out.String(), "binding /opt/app/bin --> /tmp/target")
	assert.Equal(t, 3, eng.CallCount("CreateContainer"))
	assert.Equal(t, 3, eng.CallCount("RemoveContainer"))
	assert.Equal(t, 1, eng.CallCount("RemoveNetwork"))
}

func TestMasterCleansPartialBuild(t *testing.T) {
	r := &recorder{}
	eng := testutil.NewFakeEngine()
	eng.Behaviors["t2"] = testutil.Behavior{CreateErr: errors.New("no such image")}
	d := &Dispatcher{
		Role:       Master(),
		Engine:     func(ctx context.Context) (engine.Engine, error) { return eng, nil },
		Executable: "/opt/app/bin/hello",
		Out:        &bytes.Buffer{},
	}

	err := d.Dispatch(context.Background(), "net", entries(r))

	var buildErr *network.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, 2, eng.CallCount("RemoveContainer"))
	assert.Equal(t, 1, eng.CallCount("RemoveNetwork"))
	assert.Equal(t, 0, eng.CallCount("StartContainer"))
}

func TestMasterEngineError(t *testing.T) {
	d := &Dispatcher{
		Role:       Master(),
		Engine:     func(ctx context.Context) (engine.Engine, error) { return nil, engine.ErrNoRuntime },
		Executable: "/opt/app/bin/hello",
		Out:        &bytes.Buffer{},
	}

	err := d.Dispatch(context.Background(), "net", nil)

	assert.ErrorIs(t, err, engine.ErrNoRuntime)
}

func TestMasterPropagatesExitError(t *testing.T) {
	r := &recorder{}
	eng := testutil.NewFakeEngine()
	eng.Behaviors["t1"] = testutil.Behavior{ExitCode: 1}
	d := &Dispatcher{
		Role:       Master(),
		Engine:     func(ctx context.Context) (engine.Engine, error) { return eng, nil },
		Executable: "/opt/app/bin/hello",
		Out:        &bytes.Buffer{},
	}

	err := d.Dispatch(context.Background(), "net", entries(r))

	var exitErr *container.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "t1", exitErr.Name)
	assert.Equal(t, 3, eng.CallCount("RemoveContainer"))
}

func TestMasterInterruptedBeforeStart(t *testing.T) {
	r := &recorder{}
	eng := testutil.NewFakeEngine()
	listener := interrupt.New()
	listener.StartWithNotify(false)
	defer listener.Stop()

	// interrupt twice before the network exists
	listener.Trigger()
	<-listener.Interrupted()
	listener.Trigger()

	var out bytes.Buffer
	d := &Dispatcher{
		Role:           Master(),
		Engine:         func(ctx context.Context) (engine.Engine, error) { return eng, nil },
		Executable:     "/opt/app/bin/hello",
		Out:            &out,
		Interrupt:      listener,
		NetworkOptions: []network.Option{network.WithColor("never")},
	}

	err := d.Dispatch(context.Background(), "net", entries(r))

	require.ErrorIs(t, err, network.ErrInterrupted)
	var cleanupErr *network.CleanupError
	assert.False(t, errors.As(err, &cleanupErr), "cleanup should not be aborted: %v", err)
	assert.Equal(t, 0, eng.CallCount("StartContainer"))
	left, err := eng.ListContainers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Empty(t, eng.Networks())
}
