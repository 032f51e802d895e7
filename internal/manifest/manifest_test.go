package manifest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/dockboot/internal/network"
	"github.com/RevCBH/dockboot/internal/testutil"
)

const sample = `
network: smoke
containers:
  - name: db
    image: postgres:16
    pull: true
    env:
      POSTGRES_PASSWORD: secret
      APP: smoke
  - name: test
    dockerfile: |
      FROM alpine
      RUN apk add curl
    cmd: ["sh", "-c", "curl db:5432"]
    binds: ["/tmp/data:/data:ro"]
    wait: true
  - name: test2
    dockerfile: |
      FROM alpine
      RUN apk add curl
    wait: true
    tty: true
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "smoke", m.Network)
	require.Len(t, m.Containers, 3)
	assert.True(t, m.Containers[0].Pull)
	assert.Equal(t, []string{"sh", "-c", "curl db:5432"}, m.Containers[1].Cmd)
	assert.True(t, m.Containers[1].Wait)
	assert.True(t, m.Containers[2].TTY)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dockboot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "smoke", m.Network)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"no network", "containers: [{name: a, image: alpine}]", "network"},
		{"no containers", "network: n", "containers"},
		{"empty name", "network: n\ncontainers: [{image: alpine}]", "containers[0].name"},
		{"duplicate name", "network: n\ncontainers: [{name: a, image: alpine}, {name: a, image: alpine}]", "containers[1].name"},
		{"no image", "network: n\ncontainers: [{name: a}]", "containers[0].image"},
		{"both images", "network: n\ncontainers: [{name: a, image: alpine, dockerfile: 'FROM alpine'}]", "containers[0].image"},
		{"pull without image", "network: n\ncontainers: [{name: a, dockerfile: 'FROM alpine', pull: true}]", "containers[0].pull"},
		{"bad bind", "network: n\ncontainers: [{name: a, image: alpine, binds: [nocolon]}]", "containers[0].binds[0]"},
		{"empty bind side", "network: n\ncontainers: [{name: a, image: alpine, binds: [':/ctr']}]", "containers[0].binds[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))

			var fe *FieldError
			require.True(t, errors.As(err, &fe), "expected FieldError, got %v", err)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("network: [oops"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse manifest")
}

func TestSpec(t *testing.T) {
	m, err := Parse([]byte(sample))
	require.NoError(t, err)

	spec := m.Spec()
	assert.Equal(t, "smoke", spec.Name())

	eng := testutil.NewFakeEngine()
	h, err := spec.Build(context.Background(), eng, network.WithOutput(io.Discard))
	require.NoError(t, err)
	defer h.Cleanup(context.Background())

	db := eng.Container("db").Config
	assert.Equal(t, "postgres:16", db.Image)
	assert.Equal(t, []string{"APP=smoke", "POSTGRES_PASSWORD=secret"}, db.Env)
	assert.Equal(t, 1, eng.CallCount("PullImage"))

	test := eng.Container("test").Config
	assert.Equal(t, []string{"/tmp/data:/data:ro"}, test.Binds)
	assert.Equal(t, []string{"sh", "-c", "curl db:5432"}, test.Cmd)

	// identical dockerfiles share one build
	assert.Equal(t, 1, eng.CallCount("BuildImage"))
	assert.Equal(t, test.Image, eng.Container("test2").Config.Image)
	assert.True(t, eng.Container("test2").Config.TTY)

	var waited []string
	for _, c := range h.Containers() {
		if c.Waited() {
			waited = append(waited, c.Name())
		}
	}
	assert.Equal(t, []string{"test", "test2"}, waited)
}
