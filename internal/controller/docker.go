package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	docker "github.com/docker/docker/client"
)

type dockerClient interface {
	NegotiateAPIVersion(ctx context.Context)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Close() error
}

// DockerRuntime runs each controller in an existing, named docker
// container.
type DockerRuntime struct {
	containers  []string
	stopTimeout int
	log         *slog.Logger

	client          dockerClient
	newDockerClient func() (dockerClient, error)
}

func NewDockerRuntime(opts Options) *DockerRuntime {
	return &DockerRuntime{
		containers:  opts.Containers,
		stopTimeout: int(opts.StopTimeout.Seconds()),
		log:         opts.Logger,
		newDockerClient: func() (dockerClient, error) {
			return docker.NewClientWithOpts(docker.FromEnv)
		},
	}
}

func (r *DockerRuntime) Start(ctx context.Context) error {
	if r.client == nil {
		client, err := r.newDockerClient()
		if err != nil {
			return fmt.Errorf("create docker client: %w", err)
		}
		r.client = client
		r.client.NegotiateAPIVersion(ctx)
	}

	for _, name := range r.containers {
		if err := r.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
			return fmt.Errorf("start container %s: %w", name, err)
		}

		resp, err := r.client.ContainerInspect(ctx, name)
		if err != nil {
			return fmt.Errorf("inspect container %s: %w", name, err)
		}
		if resp.ContainerJSONBase == nil || resp.State == nil || !resp.State.Running {
			return fmt.Errorf("container %s is not running", name)
		}
		r.log.Info("controller container started", "container", name)
	}
	return nil
}

// Stop stops the containers in reverse order and releases the client.
// Every container is attempted even if an earlier one fails.
func (r *DockerRuntime) Stop(ctx context.Context) error {
	if r.client == nil {
		return nil
	}

	var errs []error
	for i := len(r.containers) - 1; i >= 0; i-- {
		name := r.containers[i]
		timeout := r.stopTimeout
		if err := r.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
			errs = append(errs, fmt.Errorf("stop container %s: %w", name, err))
			continue
		}
		r.log.Info("controller container stopped", "container", name)
	}

	if err := r.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close docker client: %w", err))
	}
	r.client = nil
	return errors.Join(errs...)
}
