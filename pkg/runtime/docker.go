package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/clawbowl/clawbowl/pkg/log"
)

const cpuPeriod = 100000

// DockerRuntime implements Runtime against the Docker engine API.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime connects to the Docker daemon using the standard
// environment (DOCKER_HOST etc.) and verifies the connection.
func NewDockerRuntime(ctx context.Context) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &DockerRuntime{client: cli}, nil
}

// Close releases the underlying client connection.
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// Run creates and starts the container described by spec. If a container with the
// same name already exists it is force-removed first; the catalog record,
// not the engine, is the source of truth for what should exist.
func (r *DockerRuntime) Run(ctx context.Context, spec RunSpec) (string, error) {
	logger := log.WithComponent("runtime")

	if existing, err := r.client.ContainerInspect(ctx, spec.Name); err == nil {
		logger.Warn().
			Str("container", spec.Name).
			Str("container_id", existing.ID[:12]).
			Msg("Removing stale container before run")
		if err := r.client.ContainerRemove(ctx, existing.ID, containerTypes.RemoveOptions{Force: true}); err != nil {
			return "", fmt.Errorf("remove stale container: %w", wrapDockerErr(err))
		}
	} else if !cerrdefs.IsNotFound(err) {
		return "", wrapDockerErr(err)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for containerPort, hostPort := range spec.Ports {
		p := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		exposed[p] = struct{}{}
		// Loopback only; sandboxes are reached through the orchestrator.
		bindings[p] = []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(hostPort),
		}}
	}

	var mounts []mount.Mount
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	containerConfig := &containerTypes.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}

	initOn := spec.Init
	hostConfig := &containerTypes.HostConfig{
		PortBindings: bindings,
		Mounts:       mounts,
		Init:         &initOn,
		RestartPolicy: containerTypes.RestartPolicy{
			Name: containerTypes.RestartPolicyMode(spec.RestartPolicy),
		},
		Resources: containerTypes.Resources{
			Memory:    spec.MemoryBytes,
			CPUPeriod: cpuPeriod,
			CPUQuota:  int64(spec.CPUQuota * cpuPeriod),
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", wrapDockerErr(err))
	}

	if err := r.client.ContainerStart(ctx, resp.ID, containerTypes.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", wrapDockerErr(err))
	}

	logger.Info().
		Str("container", spec.Name).
		Str("container_id", resp.ID[:12]).
		Msg("Container started")

	return resp.ID, nil
}

func (r *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := r.client.ContainerStart(ctx, id, containerTypes.StartOptions{}); err != nil {
		return wrapDockerErr(err)
	}
	return nil
}

func (r *DockerRuntime) Stop(ctx context.Context, id string, grace time.Duration) error {
	timeout := int(grace.Seconds())
	if err := r.client.ContainerStop(ctx, id, containerTypes.StopOptions{Timeout: &timeout}); err != nil {
		return wrapDockerErr(err)
	}
	return nil
}

func (r *DockerRuntime) Restart(ctx context.Context, id string, grace time.Duration) error {
	timeout := int(grace.Seconds())
	if err := r.client.ContainerRestart(ctx, id, containerTypes.StopOptions{Timeout: &timeout}); err != nil {
		return wrapDockerErr(err)
	}
	return nil
}

func (r *DockerRuntime) Remove(ctx context.Context, id string, force bool) error {
	if err := r.client.ContainerRemove(ctx, id, containerTypes.RemoveOptions{Force: force}); err != nil {
		if cerrdefs.IsNotFound(err) {
			// Already gone; removal is idempotent.
			return nil
		}
		return wrapDockerErr(err)
	}
	return nil
}

// Inspect maps the engine state onto the normalized Status set. A missing
// container is StatusNotFound with a nil error so callers can reconcile
// without error plumbing.
func (r *DockerRuntime) Inspect(ctx context.Context, id string) (Status, error) {
	info, err := r.client.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return StatusNotFound, nil
		}
		return "", wrapDockerErr(err)
	}

	switch {
	case info.State.Running:
		return StatusRunning, nil
	case info.State.Paused:
		return StatusPaused, nil
	case info.State.Dead:
		return StatusDead, nil
	case info.State.Status == "created":
		return StatusCreated, nil
	default:
		return StatusExited, nil
	}
}

func wrapDockerErr(err error) error {
	if err == nil {
		return nil
	}
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
