// Package container describes single containers and drives their
// lifecycle against an engine.
package container

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/RevCBH/dockboot/internal/engine"
	"github.com/RevCBH/dockboot/internal/image"
)

// Spec is the configuration of one container. It is an immutable value:
// every With method returns a modified copy and never shares slices with
// the receiver.
type Spec struct {
	name    string
	source  image.Source
	cmd     []string
	env     []string
	binds   []string
	network string
	waited  bool
	tty     bool
	labels  map[string]string
}

// New creates a Spec for a container named name running an image from src.
// Containers are not waited unless WithWait(true) is set.
func New(name string, src image.Source) Spec {
	return Spec{name: name, source: src}
}

func (s Spec) clone() Spec {
	s.cmd = slices.Clone(s.cmd)
	s.env = slices.Clone(s.env)
	s.binds = slices.Clone(s.binds)
	s.labels = maps.Clone(s.labels)
	return s
}

// WithCmd replaces the image command.
func (s Spec) WithCmd(cmd ...string) Spec {
	s = s.clone()
	s.cmd = slices.Clone(cmd)
	return s
}

// WithEnv appends an environment assignment.
func (s Spec) WithEnv(key, value string) Spec {
	s = s.clone()
	s.env = append(s.env, key+"="+value)
	return s
}

// WithBind appends a host:container bind mount.
func (s Spec) WithBind(host, ctr string) Spec {
	s = s.clone()
	s.binds = append(s.binds, host+":"+ctr)
	return s
}

// WithNetwork attaches the container to a network.
func (s Spec) WithNetwork(network string) Spec {
	s = s.clone()
	s.network = network
	return s
}

// WithWait sets whether a network run waits for this container to exit.
func (s Spec) WithWait(waited bool) Spec {
	s = s.clone()
	s.waited = waited
	return s
}

func (s Spec) WithTTY(tty bool) Spec {
	s = s.clone()
	s.tty = tty
	return s
}

func (s Spec) WithLabel(key, value string) Spec {
	s = s.clone()
	if s.labels == nil {
		s.labels = make(map[string]string)
	}
	s.labels[key] = value
	return s
}

// WithBindExeDir binds the directory holding exe to ctr.
func (s Spec) WithBindExeDir(exe, ctr string) Spec {
	return s.WithBind(filepath.Dir(exe), ctr)
}

// WithBindCurrentExeDir binds the directory holding the running executable
// to ctr.
func (s Spec) WithBindCurrentExeDir(ctr string) (Spec, error) {
	exe, err := os.Executable()
	if err != nil {
		return s, fmt.Errorf("locate executable: %w", err)
	}
	fmt.Printf("binding %s --> %s\n", filepath.Dir(exe), ctr)
	return s.WithBindExeDir(exe, ctr), nil
}

func (s Spec) Name() string {
	return s.name
}

func (s Spec) Waited() bool {
	return s.waited
}

// Finalize returns a frozen copy ready for creation.
func (s Spec) Finalize() Frozen {
	return Frozen{spec: s.clone()}
}

// Frozen is a finalized Spec. It has no mutators.
type Frozen struct {
	spec Spec
}

func (f Frozen) Name() string {
	return f.spec.name
}

func (f Frozen) Waited() bool {
	return f.spec.waited
}

// Source returns the image source.
func (f Frozen) Source() image.Source {
	return f.spec.source
}

// Config returns the engine configuration for the resolved image ref.
func (f Frozen) Config(ref image.Ref) engine.ContainerConfig {
	s := f.spec.clone()
	return engine.ContainerConfig{
		Name:    s.name,
		Image:   ref.String(),
		Cmd:     s.cmd,
		Env:     s.env,
		Binds:   s.binds,
		Network: s.network,
		TTY:     s.tty,
		Labels:  s.labels,
	}
}
