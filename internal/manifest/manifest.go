// Package manifest reads declarative network descriptions for
// `dockboot up`.
package manifest

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RevCBH/dockboot/internal/container"
	"github.com/RevCBH/dockboot/internal/image"
	"github.com/RevCBH/dockboot/internal/network"
)

// Manifest describes one network and its containers.
type Manifest struct {
	// Network is the network name
	Network string `yaml:"network"`

	// Driver defaults to bridge
	Driver string `yaml:"driver,omitempty"`

	Containers []Container `yaml:"containers"`
}

// Container describes one container. Exactly one of Image and Dockerfile
// must be set.
type Container struct {
	Name string `yaml:"name"`

	// Image is an existing image reference
	Image string `yaml:"image,omitempty"`

	// Pull pulls Image when it is missing locally
	Pull bool `yaml:"pull,omitempty"`

	// Dockerfile is inline Dockerfile text built at run time
	Dockerfile string `yaml:"dockerfile,omitempty"`

	Cmd   []string          `yaml:"cmd,omitempty"`
	Env   map[string]string `yaml:"env,omitempty"`
	Binds []string          `yaml:"binds,omitempty"`
	Wait  bool              `yaml:"wait,omitempty"`
	TTY   bool              `yaml:"tty,omitempty"`
}

// FieldError reports an invalid manifest field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("manifest.%s: %s", e.Field, e.Message)
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest, reporting every problem found.
func (m *Manifest) Validate() error {
	var errs []error

	if m.Network == "" {
		errs = append(errs, &FieldError{Field: "network", Message: "must not be empty"})
	}
	if len(m.Containers) == 0 {
		errs = append(errs, &FieldError{Field: "containers", Message: "must list at least one container"})
	}

	seen := make(map[string]bool)
	for i, c := range m.Containers {
		field := func(name string) string {
			return fmt.Sprintf("containers[%d].%s", i, name)
		}

		switch {
		case c.Name == "":
			errs = append(errs, &FieldError{Field: field("name"), Message: "must not be empty"})
		case seen[c.Name]:
			errs = append(errs, &FieldError{Field: field("name"), Message: fmt.Sprintf("duplicate name %q", c.Name)})
		}
		seen[c.Name] = true

		if (c.Image == "") == (c.Dockerfile == "") {
			errs = append(errs, &FieldError{Field: field("image"), Message: "exactly one of image or dockerfile must be set"})
		}
		if c.Pull && c.Image == "" {
			errs = append(errs, &FieldError{Field: field("pull"), Message: "requires image"})
		}

		for j, b := range c.Binds {
			host, ctr, ok := strings.Cut(b, ":")
			if !ok || host == "" || ctr == "" {
				errs = append(errs, &FieldError{Field: fmt.Sprintf("containers[%d].binds[%d]", i, j), Message: fmt.Sprintf("%q is not host:container", b)})
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Spec converts the manifest into a network spec. Containers with the same
// Dockerfile text share one build.
func (m *Manifest) Spec() network.Spec {
	builds := make(map[string]*image.Build)

	spec := network.NewSpec(m.Network).WithDriver(m.Driver)
	for _, c := range m.Containers {
		var src image.Source
		switch {
		case c.Dockerfile != "":
			b, ok := builds[c.Dockerfile]
			if !ok {
				b = image.FromText(c.Dockerfile)
				builds[c.Dockerfile] = b
			}
			src = b
		case c.Pull:
			src = image.Pull(c.Image)
		default:
			src = image.Ref(c.Image)
		}

		cs := container.New(c.Name, src).WithWait(c.Wait).WithTTY(c.TTY)
		if len(c.Cmd) > 0 {
			cs = cs.WithCmd(c.Cmd...)
		}
		for _, k := range slices.Sorted(maps.Keys(c.Env)) {
			cs = cs.WithEnv(k, c.Env[k])
		}
		for _, b := range c.Binds {
			host, ctr, _ := strings.Cut(b, ":")
			cs = cs.WithBind(host, ctr)
		}
		spec = spec.Add(cs)
	}
	return spec
}
