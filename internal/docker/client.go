package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Client wraps the Docker client with the operations the preview backend needs
type Client struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewClient creates a new Docker client
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Client{
		cli:    cli,
		logger: slog.Default(),
	}, nil
}

// Close closes the Docker client
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks if Docker is responsive
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// ContainerConfig holds configuration for running a container
type ContainerConfig struct {
	Name   string
	Image  string
	Cmd    []string
	Env    []string
	Ports  map[string]string // container:host
	Labels map[string]string
}

// ContainerStatus holds container status information
type ContainerStatus struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	State     string            `json:"state"`
	Health    string            `json:"health,omitempty"`
	StartedAt string            `json:"started_at,omitempty"`
	Ports     map[string]string `json:"ports,omitempty"`
	Image     string            `json:"image"`
}

// RunContainer creates and starts a container, replacing any existing
// container with the same name
func (c *Client) RunContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	c.logger.Info("running container", "name", cfg.Name, "image", cfg.Image)

	if err := c.ensureImage(ctx, cfg.Image); err != nil {
		return "", fmt.Errorf("failed to ensure image: %w", err)
	}

	_ = c.StopAndRemove(ctx, cfg.Name)

	containerConfig := &container.Config{
		Image:  cfg.Image,
		Cmd:    cfg.Cmd,
		Env:    cfg.Env,
		Labels: cfg.Labels,
	}

	hostConfig := &container.HostConfig{
		PortBindings: toPortBindings(cfg.Ports),
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	c.logger.Info("container started", "id", resp.ID[:12], "name", cfg.Name)
	return resp.ID, nil
}

// StopAndRemove stops and removes a container
func (c *Client) StopAndRemove(ctx context.Context, nameOrID string) error {
	timeout := 30
	stopOptions := container.StopOptions{Timeout: &timeout}

	if err := c.cli.ContainerStop(ctx, nameOrID, stopOptions); err != nil {
		if !client.IsErrNotFound(err) {
			c.logger.Warn("failed to stop container", "name", nameOrID, "error", err)
		}
	}

	if err := c.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}

	return nil
}

// GetContainerStatus retrieves status of a container
func (c *Client) GetContainerStatus(ctx context.Context, nameOrID string) (*ContainerStatus, error) {
	info, err := c.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return &ContainerStatus{Name: nameOrID, State: "not_found"}, nil
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	status := &ContainerStatus{
		ID:        info.ID,
		Name:      info.Name,
		State:     info.State.Status,
		StartedAt: info.State.StartedAt,
		Image:     info.Config.Image,
		Ports:     extractPorts(info.NetworkSettings.Ports),
	}

	if info.State.Health != nil {
		status.Health = info.State.Health.Status
	}

	return status, nil
}

// ListContainers lists containers matching the given labels
func (c *Client) ListContainers(ctx context.Context, all bool, filterLabels map[string]string) ([]types.Container, error) {
	filterArgs := filters.NewArgs()
	for k, v := range filterLabels {
		filterArgs.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	return c.cli.ContainerList(ctx, container.ListOptions{
		All:     all,
		Filters: filterArgs,
	})
}

// GetContainerLogs retrieves container logs
func (c *Client) GetContainerLogs(ctx context.Context, nameOrID string, tail string) (io.ReadCloser, error) {
	return c.cli.ContainerLogs(ctx, nameOrID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
		Timestamps: true,
	})
}

// BuildImage builds a Docker image from a tar build context
func (c *Client) BuildImage(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	return c.cli.ImageBuild(ctx, buildContext, options)
}

// RemoveImage removes a Docker image
func (c *Client) RemoveImage(ctx context.Context, imageName string) error {
	_, err := c.cli.ImageRemove(ctx, imageName, image.RemoveOptions{PruneChildren: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

// ensureImage ensures an image exists locally
func (c *Client) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}

	if !client.IsErrNotFound(err) {
		return err
	}

	c.logger.Info("pulling image", "image", imageName)
	reader, err := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Read the pull output to completion
	_, err = io.Copy(io.Discard, reader)
	return err
}

// toPortBindings converts port map to Docker port bindings
func toPortBindings(ports map[string]string) nat.PortMap {
	portMap := nat.PortMap{}
	for containerPort, hostPort := range ports {
		port := nat.Port(containerPort + "/tcp")
		portMap[port] = []nat.PortBinding{
			{HostPort: hostPort},
		}
	}
	return portMap
}

// extractPorts extracts port mappings from network settings
func extractPorts(portMap nat.PortMap) map[string]string {
	ports := make(map[string]string)
	for containerPort, bindings := range portMap {
		if len(bindings) > 0 {
			ports[string(containerPort)] = bindings[0].HostPort
		}
	}
	return ports
}
