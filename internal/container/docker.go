// Package container manages the lifecycle of session containers on a local
// container daemon: create, label, start, stop, inspect, and the boot-time
// reconciliation that prunes strays left over from a previous run.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
)

// ContainerSpec holds everything needed to create one container.
type ContainerSpec struct {
	Name        string
	Image       string
	Env         []string
	Labels      map[string]string
	Mounts      []MountSpec
	NetworkMode string
	Memory      int64 // bytes
	CPUShares   int64
	PidsLimit   int64
}

// MountSpec is one bind mount.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerInfo is the subset of daemon state the manager works with.
type ContainerInfo struct {
	ID     string
	Name   string
	State  string // created, running, paused, restarting, removing, exited, dead
	Labels map[string]string
}

// Runtime is the daemon surface the Manager depends on. DockerRuntime is the
// real implementation; tests substitute a fake.
type Runtime interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)
	ContainerState(ctx context.Context, containerID string) (string, error)
	EnsureNetwork(ctx context.Context, name string) error
	Ping(ctx context.Context) error
	Close() error
}

// DockerRuntime implements Runtime on the Docker SDK.
type DockerRuntime struct {
	cli    *client.Client
	logger *logger.Logger
}

// NewDockerRuntime creates a Docker-backed runtime using the environment's
// daemon configuration (DOCKER_HOST et al).
func NewDockerRuntime(log *logger.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{
		cli:    cli,
		logger: log.WithFields(zap.String("component", "docker")),
	}, nil
}

// Close closes the Docker client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Ping checks that the daemon is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// CreateContainer creates a container from the spec and returns its id.
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	r.logger.Info("Creating container",
		zap.String("name", spec.Name),
		zap.String("image", spec.Image),
	)

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	containerCfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}

	pids := spec.PidsLimit
	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(spec.NetworkMode),
		Resources: container.Resources{
			Memory:    spec.Memory,
			CPUShares: spec.CPUShares,
			PidsLimit: &pids,
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	r.logger.Info("Container created", zap.String("id", resp.ID), zap.String("name", spec.Name))
	return resp.ID, nil
}

// StartContainer starts a created container.
func (r *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	r.logger.Info("Container started", zap.String("container_id", containerID))
	return nil
}

// StopContainer stops a container, giving it the timeout to exit cleanly.
func (r *DockerRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	r.logger.Info("Container stopped", zap.String("container_id", containerID))
	return nil
}

// RemoveContainer removes a container and its anonymous volumes.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	r.logger.Info("Container removed", zap.String("container_id", containerID))
	return nil
}

// ListContainers lists all containers (running or not) matching the labels.
func (r *DockerRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	filterArgs := filters.NewArgs()
	for key, value := range labels {
		filterArgs.Add("label", fmt.Sprintf("%s=%s", key, value))
	}

	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = ctr.Names[0]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}
		infos = append(infos, ContainerInfo{
			ID:     ctr.ID,
			Name:   name,
			State:  ctr.State,
			Labels: ctr.Labels,
		})
	}
	return infos, nil
}

// ContainerState returns the daemon state string for a container. A missing
// container is reported as an error satisfying client.IsErrNotFound.
func (r *DockerRuntime) ContainerState(ctx context.Context, containerID string) (string, error) {
	inspect, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	if inspect.State == nil {
		return "", fmt.Errorf("container %s has no state", containerID)
	}
	return inspect.State.Status, nil
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (r *DockerRuntime) EnsureNetwork(ctx context.Context, name string) error {
	_, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect network %s: %w", name, err)
	}

	_, err = r.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	r.logger.Info("Network created", zap.String("network", name))
	return nil
}
