// Package image resolves the images containers run: existing references,
// pulled references, and images built from Dockerfile text.
package image

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/RevCBH/dockboot/internal/engine"
)

// Ref is an opaque image identifier, copied by value.
type Ref string

// Source produces the image a container is created from.
type Source interface {
	Resolve(ctx context.Context, eng engine.Engine) (Ref, error)
}

// Resolve returns the reference itself; the engine must already have it.
func (r Ref) Resolve(ctx context.Context, eng engine.Engine) (Ref, error) {
	if r == "" {
		return "", fmt.Errorf("empty image reference")
	}
	return r, nil
}

func (r Ref) String() string {
	return string(r)
}

// Pull returns a Source that pulls ref when it is missing locally.
func Pull(ref string) Source {
	return pullSource(ref)
}

type pullSource string

func (p pullSource) Resolve(ctx context.Context, eng engine.Engine) (Ref, error) {
	if err := eng.PullImage(ctx, string(p)); err != nil {
		return "", fmt.Errorf("pull %s: %w", string(p), err)
	}
	return Ref(p), nil
}

// Renderer produces Dockerfile text.
type Renderer interface {
	Render() string
}

type textRenderer string

func (t textRenderer) Render() string {
	return string(t)
}

// Build is a Source that builds its image on first use. Containers sharing
// a Build share one image; concurrent callers wait for the same build.
type Build struct {
	dockerfile Renderer
	tag        string

	flight singleflight.Group

	mu  sync.Mutex
	ref Ref
}

// NewBuild creates a Build from a Dockerfile renderer.
func NewBuild(df Renderer) *Build {
	return &Build{dockerfile: df}
}

// FromText creates a Build from raw Dockerfile text.
func FromText(dockerfile string) *Build {
	return NewBuild(textRenderer(dockerfile))
}

// WithTag tags the built image.
func (b *Build) WithTag(tag string) *Build {
	b.tag = tag
	return b
}

// Dockerfile returns the rendered Dockerfile text.
func (b *Build) Dockerfile() string {
	return b.dockerfile.Render()
}

// Resolve builds the image once and returns its id. Concurrent callers
// share one build but each stops waiting when its own ctx is done. A failed
// build is not cached, so the next caller retries.
func (b *Build) Resolve(ctx context.Context, eng engine.Engine) (Ref, error) {
	for {
		if ref := b.cached(); ref != "" {
			return ref, nil
		}

		ch := b.flight.DoChan("build", func() (any, error) {
			return b.build(ctx, eng)
		})
		select {
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(Ref), nil
			}
			// the shared build ran on a caller context that is gone; ours is not
			if ctx.Err() == nil && isCanceled(res.Err) {
				continue
			}
			return "", res.Err
		case <-ctx.Done():
			return "", fmt.Errorf("build image: %w", ctx.Err())
		}
	}
}

func (b *Build) cached() Ref {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ref
}

func (b *Build) build(ctx context.Context, eng engine.Engine) (Ref, error) {
	if ref := b.cached(); ref != "" {
		return ref, nil
	}

	buildContext, err := Context(b.dockerfile.Render())
	if err != nil {
		return "", err
	}

	id, err := eng.BuildImage(ctx, bytes.NewReader(buildContext), b.tag)
	if err != nil {
		return "", fmt.Errorf("build image: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ref = Ref(id)
	return b.ref, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Context returns a gzip-compressed tar holding a single Dockerfile.
func Context(dockerfile string) ([]byte, error) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	hdr := &tar.Header{
		Name: "Dockerfile",
		Mode: 0o755,
		Size: int64(len(dockerfile)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return nil, fmt.Errorf("write dockerfile: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	if _, err := gz.Write(tarBuf.Bytes()); err != nil {
		return nil, fmt.Errorf("compress build context: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress build context: %w", err)
	}
	return gzBuf.Bytes(), nil
}

var (
	_ Source = Ref("")
	_ Source = (*Build)(nil)
	_ Source = pullSource("")
)
