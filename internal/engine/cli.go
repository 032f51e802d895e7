package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Runner executes container runtime CLI commands.
type Runner interface {
	// Run executes a command to completion and returns its trimmed stdout.
	Run(ctx context.Context, stdin io.Reader, args ...string) (string, error)

	// Start launches a command streaming into stdout and stderr. The
	// returned wait func blocks until the command exits.
	Start(ctx context.Context, stdout, stderr io.Writer, args ...string) (wait func() error, err error)
}

// CommandError is a CLI invocation that exited unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %s", strings.Join(e.Args, " "), e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// osRunner executes real commands via exec.CommandContext.
type osRunner struct {
	binary string
}

func (r osRunner) Run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	if err := cmd.Run(); err != nil {
		return "", r.commandError(args, strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r osRunner) Start(ctx context.Context, stdout, stderr io.Writer, args ...string) (func() error, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, r.commandError(args, "", err)
	}
	return func() error {
		if err := cmd.Wait(); err != nil {
			return r.commandError(args, "", err)
		}
		return nil
	}, nil
}

func (r osRunner) commandError(args []string, stderr string, err error) error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &CommandError{
		Args:     append([]string{r.binary}, args...),
		ExitCode: code,
		Stderr:   stderr,
		Err:      err,
	}
}

// CLI implements Engine using the docker or podman command line.
type CLI struct {
	runtime string // "docker" or "podman"
	runner  Runner
}

// CLIOption configures a CLI engine.
type CLIOption func(*CLI)

// WithRunner replaces the command runner, for tests.
func WithRunner(r Runner) CLIOption {
	return func(c *CLI) {
		c.runner = r
	}
}

// NewCLI creates an Engine using the specified runtime binary.
// Use DetectRuntime() to find an available runtime first.
func NewCLI(runtime string, opts ...CLIOption) *CLI {
	c := &CLI{runtime: runtime, runner: osRunner{binary: runtime}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CLI) Name() string {
	return c.runtime
}

func (c *CLI) CreateNetwork(ctx context.Context, cfg NetworkConfig) (NetworkID, string, error) {
	out, err := c.runner.Run(ctx, nil, networkCreateArgs(cfg)...)
	if err != nil {
		return "", "", c.wrap("create network", cfg.Name, err)
	}
	return NetworkID(lastLine(out)), "", nil
}

func (c *CLI) RemoveNetwork(ctx context.Context, id NetworkID) error {
	_, err := c.runner.Run(ctx, nil, "network", "rm", string(id))
	return c.wrap("remove network", string(id), err)
}

func (c *CLI) ListNetworks(ctx context.Context, labels map[string]string) ([]Resource, error) {
	args := append([]string{"network", "ls", "--no-trunc"}, filterArgs(labels)...)
	args = append(args, "--format", "{{.ID}}\t{{.Name}}")
	out, err := c.runner.Run(ctx, nil, args...)
	if err != nil {
		return nil, c.wrap("list networks", "", err)
	}
	return parseResources(out), nil
}

func (c *CLI) CreateContainer(ctx context.Context, cfg ContainerConfig) (ContainerID, error) {
	out, err := c.runner.Run(ctx, nil, containerCreateArgs(cfg)...)
	if err != nil {
		return "", c.wrap("create container", cfg.Name, err)
	}
	return ContainerID(lastLine(out)), nil
}

func (c *CLI) StartContainer(ctx context.Context, id ContainerID) error {
	_, err := c.runner.Run(ctx, nil, "start", string(id))
	return c.wrap("start container", string(id), err)
}

func (c *CLI) StopContainer(ctx context.Context, id ContainerID, timeout time.Duration) error {
	timeoutSecs := int(timeout.Seconds())
	_, err := c.runner.Run(ctx, nil, "stop", "-t", strconv.Itoa(timeoutSecs), string(id))
	return c.wrap("stop container", string(id), err)
}

func (c *CLI) RemoveContainer(ctx context.Context, id ContainerID) error {
	_, err := c.runner.Run(ctx, nil, "rm", "-f", string(id))
	return c.wrap("remove container", string(id), err)
}

func (c *CLI) ListContainers(ctx context.Context, labels map[string]string) ([]Resource, error) {
	args := append([]string{"ps", "-a", "--no-trunc"}, filterArgs(labels)...)
	args = append(args, "--format", "{{.ID}}\t{{.Names}}")
	out, err := c.runner.Run(ctx, nil, args...)
	if err != nil {
		return nil, c.wrap("list containers", "", err)
	}
	return parseResources(out), nil
}

func (c *CLI) Logs(ctx context.Context, id ContainerID, follow bool) (LogStream, error) {
	args := []string{"logs"}
	if follow {
		// -f follows the log output until container exits
		args = append(args, "-f")
	}
	args = append(args, string(id))

	// When the stream is closed the command is killed and its pipes close
	ctx, cancel := context.WithCancel(ctx)
	pump := func(out func(LogKind) io.Writer) error {
		wait, err := c.runner.Start(ctx, out(Stdout), out(Stderr), args...)
		if err != nil {
			return c.wrap("logs", string(id), err)
		}
		return c.wrap("logs", string(id), wait())
	}
	closer := func() error {
		cancel()
		return nil
	}
	return newLineStream(pump, closer), nil
}

func (c *CLI) Wait(ctx context.Context, id ContainerID) (WaitResult, error) {
	out, err := c.runner.Run(ctx, nil, "wait", string(id))
	if err != nil {
		return WaitResult{}, c.wrap("wait container", string(id), err)
	}

	exitCode, err := strconv.Atoi(lastLine(out))
	if err != nil {
		return WaitResult{}, c.wrap("wait container", string(id), fmt.Errorf("failed to parse exit code: %w", err))
	}
	return WaitResult{ExitCode: exitCode}, nil
}

func (c *CLI) Exec(ctx context.Context, id ContainerID, cmd []string, out io.Writer) (int, error) {
	args := append([]string{"exec", string(id)}, cmd...)
	wait, err := c.runner.Start(ctx, out, out, args...)
	if err != nil {
		return -1, c.wrap("exec", string(id), err)
	}

	err = wait()
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode >= 0 {
		return cmdErr.ExitCode, nil
	}
	if err != nil {
		return -1, c.wrap("exec", string(id), err)
	}
	return 0, nil
}

func (c *CLI) BuildImage(ctx context.Context, buildContext io.Reader, tag string) (string, error) {
	args := []string{"build", "-q"}
	if tag != "" {
		args = append(args, "-t", tag)
	}
	args = append(args, "-")

	out, err := c.runner.Run(ctx, buildContext, args...)
	if err != nil {
		return "", c.wrap("build image", tag, err)
	}
	id := lastLine(out)
	if id == "" {
		return "", c.wrap("build image", tag, fmt.Errorf("image built without id"))
	}
	return id, nil
}

func (c *CLI) PullImage(ctx context.Context, ref string) error {
	if _, err := c.runner.Run(ctx, nil, "image", "inspect", ref); err == nil {
		return nil
	}
	_, err := c.runner.Run(ctx, nil, "pull", ref)
	return c.wrap("pull image", ref, err)
}

func (c *CLI) Close() error {
	return nil
}

func (c *CLI) wrap(op, target string, err error) error {
	if err == nil {
		return nil
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return err
	}

	notFound := false
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		notFound = strings.Contains(strings.ToLower(cmdErr.Stderr), "no such")
	}
	return wrap(op, target, err, notFound)
}

// networkCreateArgs builds: network create --driver <d> [--label k=v]... <name>
func networkCreateArgs(cfg NetworkConfig) []string {
	driver := cfg.Driver
	if driver == "" {
		driver = "bridge"
	}
	args := []string{"network", "create", "--driver", driver}
	args = append(args, labelArgs(cfg.Labels)...)
	return append(args, cfg.Name)
}

// containerCreateArgs builds: create --name <n> [options] <image> [cmd...]
func containerCreateArgs(cfg ContainerConfig) []string {
	args := []string{"create", "--name", cfg.Name}

	if cfg.TTY {
		args = append(args, "--tty")
	}

	// Add environment variables in order
	for _, kv := range cfg.Env {
		args = append(args, "-e", kv)
	}

	for _, bind := range cfg.Binds {
		args = append(args, "-v", bind)
	}

	if cfg.Network != "" {
		args = append(args, "--network", cfg.Network)
	}

	args = append(args, labelArgs(cfg.Labels)...)

	// Image and command come last
	args = append(args, cfg.Image)
	return append(args, cfg.Cmd...)
}

func labelArgs(labels map[string]string) []string {
	var args []string
	for _, k := range sortedKeys(labels) {
		args = append(args, "--label", k+"="+labels[k])
	}
	return args
}

func filterArgs(labels map[string]string) []string {
	var args []string
	for _, k := range sortedKeys(labels) {
		args = append(args, "--filter", "label="+k+"="+labels[k])
	}
	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseResources(out string) []Resource {
	var res []Resource
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, name, _ := strings.Cut(line, "\t")
		res = append(res, Resource{ID: id, Name: name})
	}
	return res
}

// lastLine returns the last non-empty line; pull progress or build output
// may precede the id.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Verify CLI implements Engine interface
var _ Engine = (*CLI)(nil)
