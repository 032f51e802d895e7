package image

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/dockboot/internal/testutil"
)

func TestRefResolve(t *testing.T) {
	eng := testutil.NewFakeEngine()

	ref, err := Ref("alpine:3.20").Resolve(context.Background(), eng)
	require.NoError(t, err)
	assert.Equal(t, Ref("alpine:3.20"), ref)
	assert.Empty(t, eng.Calls())

	_, err = Ref("").Resolve(context.Background(), eng)
	assert.Error(t, err)
}

func TestPullResolve(t *testing.T) {
	eng := testutil.NewFakeEngine()

	ref, err := Pull("busybox").Resolve(context.Background(), eng)
	require.NoError(t, err)
	assert.Equal(t, Ref("busybox"), ref)
	assert.Equal(t, 1, eng.CallCount("PullImage"))
}

func TestContext(t *testing.T) {
	text := "FROM alpine\nENTRYPOINT [\"true\"]\n"

	data, err := Context(text)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", hdr.Name)
	assert.Equal(t, int64(0o755), hdr.Mode)

	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, text, string(body))

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestBuildMemoised(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.BuildDelay = 10 * time.Millisecond
	b := NewBuild(NewDockerfile(From("alpine")))

	var wg sync.WaitGroup
	refs := make([]Ref, 8)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := b.Resolve(context.Background(), eng)
			assert.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, eng.CallCount("BuildImage"))
	for _, ref := range refs {
		assert.Equal(t, refs[0], ref)
	}
}

func TestBuildWaiterHonoursContext(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.BuildDelay = 300 * time.Millisecond
	b := FromText("FROM alpine\n")

	leader := make(chan error, 1)
	go func() {
		_, err := b.Resolve(context.Background(), eng)
		leader <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := b.Resolve(ctx, eng)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	require.NoError(t, <-leader)
	assert.Equal(t, 1, eng.CallCount("BuildImage"))
}

func TestBuildRetriesAfterCancelledLeader(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.BuildDelay = 100 * time.Millisecond
	b := FromText("FROM alpine\n")

	ctx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := b.Resolve(ctx, eng)
		leader <- err
	}()
	time.Sleep(20 * time.Millisecond)

	waiter := make(chan error, 1)
	go func() {
		_, err := b.Resolve(context.Background(), eng)
		waiter <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leader, context.Canceled)
	require.NoError(t, <-waiter)
	assert.Equal(t, 2, eng.CallCount("BuildImage"))
}

func TestBuildFailureNotCached(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.BuildErr = errors.New("no space left on device")
	b := FromText("FROM alpine\n").WithTag("dockboot-test")

	_, err := b.Resolve(context.Background(), eng)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build image")

	eng.BuildErr = nil
	ref, err := b.Resolve(context.Background(), eng)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Equal(t, 2, eng.CallCount("BuildImage"))
	assert.Equal(t, "dockboot-test", eng.Calls()[0].Target)
}

func TestBuildDockerfile(t *testing.T) {
	b := FromText("FROM scratch\n")
	assert.Equal(t, "FROM scratch\n", b.Dockerfile())
}
