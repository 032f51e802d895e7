package container

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/dockboot/internal/dialog"
	"github.com/RevCBH/dockboot/internal/engine"
	"github.com/RevCBH/dockboot/internal/image"
	"github.com/RevCBH/dockboot/internal/testutil"
)

func create(t *testing.T, eng *testutil.FakeEngine, s Spec) *Handle {
	t.Helper()
	h, err := Create(context.Background(), eng, s.Finalize())
	require.NoError(t, err)
	return h
}

func TestCreate(t *testing.T) {
	eng := testutil.NewFakeEngine()

	h := create(t, eng, New("web", image.Ref("nginx")).WithWait(true))

	assert.Equal(t, "web", h.Name())
	assert.NotEmpty(t, h.ID())
	assert.True(t, h.Waited())
	assert.Equal(t, "nginx", eng.Container("web").Config.Image)
}

func TestCreateResolvesBuild(t *testing.T) {
	eng := testutil.NewFakeEngine()
	b := image.FromText("FROM alpine\n")

	create(t, eng, New("a", b))
	create(t, eng, New("b", b))

	assert.Equal(t, 1, eng.CallCount("BuildImage"))
	assert.Equal(t, eng.Container("a").Config.Image, eng.Container("b").Config.Image)
}

func TestCreateErrors(t *testing.T) {
	t.Run("image source", func(t *testing.T) {
		eng := testutil.NewFakeEngine()
		eng.BuildErr = errors.New("bad dockerfile")

		_, err := Create(context.Background(), eng, New("a", image.FromText("FROM")).Finalize())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "container a")
		assert.Equal(t, 0, eng.CallCount("CreateContainer"))
	})

	t.Run("engine", func(t *testing.T) {
		eng := testutil.NewFakeEngine()
		eng.Behaviors["a"] = testutil.Behavior{CreateErr: errors.New("name conflict")}

		_, err := Create(context.Background(), eng, New("a", image.Ref("alpine")).Finalize())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "name conflict")
	})
}

func TestStartTwiceIsEngineError(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.Behaviors["a"] = testutil.Behavior{Forever: true}
	h := create(t, eng, New("a", image.Ref("alpine")))

	require.NoError(t, h.Start(context.Background()))
	assert.Error(t, h.Start(context.Background()))
}

func TestWaitable(t *testing.T) {
	eng := testutil.NewFakeEngine()

	_, ok := create(t, eng, New("free", image.Ref("alpine"))).Waitable()
	assert.False(t, ok)

	w, ok := create(t, eng, New("held", image.Ref("alpine")).WithWait(true)).Waitable()
	assert.True(t, ok)
	assert.Equal(t, "held", w.Handle().Name())
}

func TestZeroWaitable(t *testing.T) {
	var w Waitable

	assert.Nil(t, w.Handle())
	assert.ErrorIs(t, w.Wait(context.Background()), ErrNotWaitable)
}

func TestWait(t *testing.T) {
	tests := []struct {
		name     string
		behavior testutil.Behavior
		wantCode int
	}{
		{"success", testutil.Behavior{ExitCode: 0}, 0},
		{"failure", testutil.Behavior{ExitCode: 3, Message: "oops"}, 3},
		{"delayed failure", testutil.Behavior{ExitCode: 1, Delay: 20 * time.Millisecond}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := testutil.NewFakeEngine()
			eng.Behaviors["a"] = tt.behavior
			h := create(t, eng, New("a", image.Ref("alpine")).WithWait(true))
			w, _ := h.Waitable()

			require.NoError(t, h.Start(context.Background()))
			err := w.Wait(context.Background())

			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, "a", exitErr.Name)
			assert.Equal(t, tt.wantCode, exitErr.Code)
			assert.Equal(t, tt.behavior.Message, exitErr.Message)
		})
	}
}

func TestWaitTransportErrorIsNotExitError(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.Behaviors["a"] = testutil.Behavior{Forever: true}
	h := create(t, eng, New("a", image.Ref("alpine")).WithWait(true))
	w, _ := h.Waitable()
	require.NoError(t, h.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Wait(ctx)

	require.Error(t, err)
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
	var engErr *engine.Error
	assert.ErrorAs(t, err, &engErr)
}

func TestRemove(t *testing.T) {
	eng := testutil.NewFakeEngine()
	h := create(t, eng, New("a", image.Ref("alpine")))

	require.NoError(t, h.Remove(context.Background()))
	assert.True(t, eng.Container("a").Removed)

	// already gone
	assert.NoError(t, h.Remove(context.Background()))
	assert.Equal(t, 2, eng.CallCount("RemoveContainer"))
}

func TestRemoveFailure(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.Behaviors["a"] = testutil.Behavior{RemoveErr: errors.New("engine unreachable")}
	h := create(t, eng, New("a", image.Ref("alpine")))

	assert.Error(t, h.Remove(context.Background()))
}

func TestExec(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.ExecOutput = "hello\n"
	h := create(t, eng, New("a", image.Ref("alpine")))

	var out bytes.Buffer
	require.NoError(t, h.Exec(context.Background(), []string{"echo", "hello"}, &out))
	assert.Equal(t, "hello\n", out.String())

	eng.ExecCode = 2
	err := h.Exec(context.Background(), []string{"false"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "exec false", exitErr.Message)
}

func TestAttach(t *testing.T) {
	eng := testutil.NewFakeEngine()
	created := create(t, eng, New("a", image.Ref("alpine")))

	h := Attach(eng, string(created.ID()))
	_, ok := h.Waitable()
	assert.False(t, ok)
	require.NoError(t, h.Stop(context.Background(), time.Second))
	assert.Equal(t, 1, eng.CallCount("StopContainer"))
}

func TestRunAttached(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.Behaviors["greeter"] = testutil.Behavior{
		Stdout:   []string{"hello", "world"},
		ExitCode: 4,
		Delay:    10 * time.Millisecond,
	}
	h := create(t, eng, New("greeter", image.Ref("alpine")))

	var buf bytes.Buffer
	err := RunAttached(context.Background(), h, dialog.New(&buf))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.Code)
	assert.Contains(t, buf.String(), "greeter")
	assert.Contains(t, buf.String(), "hello\n")
	assert.Contains(t, buf.String(), "world\n")
	assert.Contains(t, buf.String(), "┗━━")
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "container a exited with code 1", (&ExitError{Name: "a", Code: 1}).Error())
	assert.Equal(t, "container a exited with code 1 boom", (&ExitError{Name: "a", Code: 1, Message: "boom"}).Error())
}
