package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// Docker implements Engine using the Docker Engine API.
type Docker struct {
	client *dockerclient.Client
	logger *slog.Logger
}

// NewDocker connects to the Docker daemon. An empty host uses DOCKER_HOST
// and friends, then falls back to the usual socket locations.
func NewDocker(ctx context.Context, host string, logger *slog.Logger) (*Docker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cli, err := connectDocker(ctx, host)
	if err != nil {
		return nil, err
	}
	return &Docker{client: cli, logger: logger}, nil
}

// connectDocker tries the environment settings first, then the common
// Docker Desktop / Linux / Colima sockets.
func connectDocker(ctx context.Context, host string) (*dockerclient.Client, error) {
	if host != "" {
		cli, err := dockerclient.NewClientWithOpts(
			dockerclient.WithHost(host),
			dockerclient.WithAPIVersionNegotiation(),
		)
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		if err := ping(ctx, cli); err != nil {
			cli.Close()
			return nil, fmt.Errorf("docker daemon at %s: %w", host, err)
		}
		return cli, nil
	}

	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err == nil {
		if err := ping(ctx, cli); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	home := os.Getenv("HOME")
	socketPaths := []string{
		"unix://" + home + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                  // Linux default
		"unix://" + home + "/.colima/docker.sock",      // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := dockerclient.NewClientWithOpts(
			dockerclient.WithHost(socketPath),
			dockerclient.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}
		if err := ping(ctx, cli); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

func ping(ctx context.Context, cli *dockerclient.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

func (d *Docker) Name() string {
	return "api"
}

func (d *Docker) CreateNetwork(ctx context.Context, cfg NetworkConfig) (NetworkID, string, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "bridge"
	}
	resp, err := d.client.NetworkCreate(ctx, cfg.Name, network.CreateOptions{
		Driver: driver,
		Labels: cfg.Labels,
	})
	if err != nil {
		return "", "", d.wrap("create network", cfg.Name, err)
	}
	return NetworkID(resp.ID), resp.Warning, nil
}

func (d *Docker) RemoveNetwork(ctx context.Context, id NetworkID) error {
	return d.wrap("remove network", string(id), d.client.NetworkRemove(ctx, string(id)))
}

func (d *Docker) ListNetworks(ctx context.Context, labels map[string]string) ([]Resource, error) {
	nets, err := d.client.NetworkList(ctx, network.ListOptions{Filters: labelFilters(labels)})
	if err != nil {
		return nil, d.wrap("list networks", "", err)
	}
	out := make([]Resource, 0, len(nets))
	for _, n := range nets {
		out = append(out, Resource{ID: n.ID, Name: n.Name, Labels: n.Labels})
	}
	return out, nil
}

func (d *Docker) CreateContainer(ctx context.Context, cfg ContainerConfig) (ContainerID, error) {
	containerCfg := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		Tty:          cfg.TTY,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       cfg.Labels,
	}
	hostCfg := &container.HostConfig{
		Binds: cfg.Binds,
	}
	if cfg.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(cfg.Network)
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", d.wrap("create container", cfg.Name, err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("engine warning", "container", cfg.Name, "warning", w)
	}
	return ContainerID(resp.ID), nil
}

func (d *Docker) StartContainer(ctx context.Context, id ContainerID) error {
	return d.wrap("start container", string(id), d.client.ContainerStart(ctx, string(id), container.StartOptions{}))
}

func (d *Docker) StopContainer(ctx context.Context, id ContainerID, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return d.wrap("stop container", string(id), d.client.ContainerStop(ctx, string(id), container.StopOptions{Timeout: &secs}))
}

func (d *Docker) RemoveContainer(ctx context.Context, id ContainerID) error {
	err := d.client.ContainerRemove(ctx, string(id), container.RemoveOptions{Force: true})
	return d.wrap("remove container", string(id), err)
}

func (d *Docker) ListContainers(ctx context.Context, labels map[string]string) ([]Resource, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labelFilters(labels),
	})
	if err != nil {
		return nil, d.wrap("list containers", "", err)
	}

	out := make([]Resource, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, Resource{ID: c.ID, Name: name, Labels: c.Labels})
	}
	return out, nil
}

func (d *Docker) Logs(ctx context.Context, id ContainerID, follow bool) (LogStream, error) {
	// TTY containers produce a raw stream, the others are multiplexed
	inspect, err := d.client.ContainerInspect(ctx, string(id))
	if err != nil {
		return nil, d.wrap("inspect container", string(id), err)
	}
	tty := inspect.Config != nil && inspect.Config.Tty

	body, err := d.client.ContainerLogs(ctx, string(id), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
	if err != nil {
		return nil, d.wrap("logs", string(id), err)
	}

	pump := func(out func(LogKind) io.Writer) error {
		if tty {
			_, err := io.Copy(out(Stdout), body)
			return err
		}
		_, err := stdcopy.StdCopy(out(Stdout), out(Stderr), body)
		return err
	}
	return newLineStream(pump, body.Close), nil
}

func (d *Docker) Wait(ctx context.Context, id ContainerID) (WaitResult, error) {
	respCh, errCh := d.client.ContainerWait(ctx, string(id), container.WaitConditionNotRunning)
	select {
	case resp := <-respCh:
		res := WaitResult{ExitCode: int(resp.StatusCode)}
		if resp.Error != nil {
			res.Message = resp.Error.Message
		}
		return res, nil
	case err := <-errCh:
		return WaitResult{}, d.wrap("wait container", string(id), err)
	}
}

func (d *Docker) Exec(ctx context.Context, id ContainerID, cmd []string, out io.Writer) (int, error) {
	execResp, err := d.client.ContainerExecCreate(ctx, string(id), container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, d.wrap("create exec", string(id), err)
	}

	attachResp, err := d.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return -1, d.wrap("attach exec", string(id), err)
	}
	defer attachResp.Close()

	if _, err := stdcopy.StdCopy(out, out, attachResp.Reader); err != nil {
		return -1, d.wrap("read exec output", string(id), err)
	}

	inspectResp, err := d.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, d.wrap("inspect exec", string(id), err)
	}
	return inspectResp.ExitCode, nil
}

func (d *Docker) BuildImage(ctx context.Context, buildContext io.Reader, tag string) (string, error) {
	opts := types.ImageBuildOptions{
		Dockerfile: "Dockerfile",
		Remove:     true,
	}
	if tag != "" {
		opts.Tags = []string{tag}
	}

	resp, err := d.client.ImageBuild(ctx, buildContext, opts)
	if err != nil {
		return "", d.wrap("build image", tag, err)
	}
	defer resp.Body.Close()

	id, err := decodeBuildOutput(resp.Body, d.logger)
	if err != nil {
		return "", d.wrap("build image", tag, err)
	}
	return id, nil
}

// decodeBuildOutput follows the JSON progress stream of a build. The image
// id arrives in an aux record.
func decodeBuildOutput(r io.Reader, logger *slog.Logger) (string, error) {
	var id string
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("decode build output: %w", err)
		}

		if msg.Error != nil {
			return "", msg.Error
		}
		if s := strings.TrimSpace(msg.Stream); s != "" {
			logger.Debug("build", "output", s)
		}
		if msg.Aux != nil {
			var aux struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.ID != "" {
				id = aux.ID
			}
		}
	}

	if id == "" {
		return "", fmt.Errorf("image built without id")
	}
	return id, nil
}

func (d *Docker) PullImage(ctx context.Context, ref string) error {
	if _, _, err := d.client.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil // Image exists
	}

	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return d.wrap("pull image", ref, err)
	}
	defer reader.Close()

	// Consume the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	return d.wrap("pull image", ref, err)
}

func (d *Docker) Close() error {
	return d.client.Close()
}

func (d *Docker) wrap(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(op, target, err, dockerclient.IsErrNotFound(err))
}

func labelFilters(labels map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	return args
}

var _ Engine = (*Docker)(nil)
