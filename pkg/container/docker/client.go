// Package docker provides a Docker implementation of the container.Runtime
// interface.
package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/omcp/sandbox-mcp/pkg/container"
	"github.com/omcp/sandbox-mcp/pkg/logger"
)

// DockerSocketPath is the default Docker socket path on Unix systems.
const DockerSocketPath = "/var/run/docker.sock"

// PodmanXDGRuntimeSocketPath is the Podman socket path under XDG_RUNTIME_DIR.
const PodmanXDGRuntimeSocketPath = "podman/podman.sock"

// dockerAPI is the subset of the Docker SDK client used by this package.
// It exists so tests can substitute a fake without a daemon.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (dockercontainer.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockercontainer.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options dockercontainer.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options dockercontainer.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (dockercontainer.InspectResponse, error)
	ContainerList(ctx context.Context, options dockercontainer.ListOptions) ([]dockercontainer.Summary, error)
	ContainerExecCreate(ctx context.Context, containerID string, options dockercontainer.ExecOptions) (dockercontainer.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options dockercontainer.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (dockercontainer.ExecInspect, error)
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, dockercontainer.PathStat, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options dockercontainer.CopyToContainerOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Client implements container.Runtime on top of the Docker Engine API.
type Client struct {
	api dockerAPI
}

// NewClient creates a Docker runtime client. host overrides endpoint
// discovery when non-empty; otherwise the DOCKER_HOST environment variable
// and the standard socket locations are tried in order.
func NewClient(ctx context.Context, host string) (*Client, error) {
	opts, err := clientOpts(host)
	if err != nil {
		return nil, err
	}

	dockerClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	c := &Client{api: dockerClient}
	if err := c.IsRunning(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func clientOpts(host string) ([]client.Opt, error) {
	if host != "" {
		return []client.Opt{
			client.WithAPIVersionNegotiation(),
			client.WithHost(host),
		}, nil
	}
	if os.Getenv(client.EnvOverrideHost) != "" {
		return []client.Opt{
			client.WithAPIVersionNegotiation(),
			client.FromEnv,
		}, nil
	}

	socketPath, err := findContainerSocket()
	if err != nil {
		return nil, err
	}

	// Custom HTTP client that dials the Unix socket directly.
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
	return []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
		client.WithHost("unix://" + socketPath),
	}, nil
}

// findContainerSocket locates a container runtime socket in the standard
// locations.
func findContainerSocket() (string, error) {
	if _, err := os.Stat(DockerSocketPath); err == nil {
		logger.Debugf("Found Docker socket at %s", DockerSocketPath)
		return DockerSocketPath, nil
	}

	if xdgRuntimeDir := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntimeDir != "" {
		podmanSocket := filepath.Join(xdgRuntimeDir, PodmanXDGRuntimeSocketPath)
		if _, err := os.Stat(podmanSocket); err == nil {
			logger.Debugf("Found Podman socket at %s", podmanSocket)
			return podmanSocket, nil
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		desktopSocket := filepath.Join(home, ".docker/run/docker.sock")
		if _, err := os.Stat(desktopSocket); err == nil {
			logger.Debugf("Found Docker Desktop socket at %s", desktopSocket)
			return desktopSocket, nil
		}
	}

	return "", container.ErrRuntimeNotFound
}

// IsRunning checks that the runtime endpoint responds to a ping.
func (c *Client) IsRunning(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return container.NewError(container.ErrRuntimeNotFound, "", err.Error())
	}
	return nil
}

// DeployWorkload creates and starts a sandbox container.
func (c *Client) DeployWorkload(
	ctx context.Context,
	imageName string,
	name string,
	options *container.WorkloadOptions,
	permissionConfig *container.PermissionConfig,
) (string, error) {
	if options == nil {
		options = container.NewWorkloadOptions()
	}

	config := &dockercontainer.Config{
		Image:      imageName,
		Cmd:        options.Command,
		Env:        envList(options.EnvVars),
		Labels:     managedLabels(options.Labels),
		User:       options.User,
		WorkingDir: options.WorkingDir,
	}

	hostConfig := &dockercontainer.HostConfig{
		NetworkMode:    dockercontainer.NetworkMode(permissionConfig.NetworkMode),
		CapDrop:        permissionConfig.CapDrop,
		CapAdd:         permissionConfig.CapAdd,
		SecurityOpt:    permissionConfig.SecurityOpt,
		ReadonlyRootfs: permissionConfig.ReadOnlyRootfs,
		Tmpfs:          permissionConfig.Tmpfs,
		ExtraHosts:     permissionConfig.ExtraHosts,
		AutoRemove:     options.AutoRemove,
		Resources: dockercontainer.Resources{
			Memory:    options.MemoryBytes,
			CPUPeriod: options.CPUPeriod,
			CPUQuota:  options.CPUQuota,
		},
	}

	for _, m := range permissionConfig.Mounts {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	if err := setupPorts(config, hostConfig, options.ExposedPorts); err != nil {
		return "", container.NewError(err, "", err.Error())
	}

	containerID, err := c.createAndStart(ctx, config, hostConfig, name, imageName)
	if err != nil {
		return "", err
	}

	logger.Infow("deployed workload", "container_id", containerID, "name", name, "image", imageName)
	return containerID, nil
}

func (c *Client) createAndStart(
	ctx context.Context,
	config *dockercontainer.Config,
	hostConfig *dockercontainer.HostConfig,
	name string,
	imageName string,
) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		// Image is missing locally. Pull it and retry once.
		if pullErr := c.pullImage(ctx, imageName); pullErr != nil {
			return "", container.NewError(pullErr, "", fmt.Sprintf("failed to pull image %s", imageName))
		}
		resp, err = c.api.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return "", container.NewError(err, "", fmt.Sprintf("failed to create container %s", name))
	}

	if err := c.api.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		// Don't leave the created container behind.
		if rmErr := c.RemoveWorkload(ctx, resp.ID); rmErr != nil {
			logger.Warnf("failed to remove container %s after start failure: %v", resp.ID, rmErr)
		}
		return "", container.NewError(err, resp.ID, fmt.Sprintf("failed to start container %s", name))
	}
	return resp.ID, nil
}

func (c *Client) pullImage(ctx context.Context, imageName string) error {
	logger.Infof("Pulling image: %s", imageName)
	reader, err := c.api.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// The pull happens as the response body is consumed.
	_, err = io.Copy(io.Discard, reader)
	return err
}

// StopWorkload stops a container, giving it timeoutSecs to exit before it
// is killed. Missing containers are ignored.
func (c *Client) StopWorkload(ctx context.Context, containerID string, timeoutSecs int) error {
	err := c.api.ContainerStop(ctx, containerID, dockercontainer.StopOptions{Timeout: &timeoutSecs})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return container.NewError(err, containerID, fmt.Sprintf("failed to stop container %s", containerID))
	}
	logger.Debugw("stopped container", "container_id", containerID)
	return nil
}

// RemoveWorkload force-removes a container. Missing containers are ignored.
func (c *Client) RemoveWorkload(ctx context.Context, containerID string) error {
	err := c.api.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{Force: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return container.NewError(err, containerID, fmt.Sprintf("failed to remove container %s", containerID))
	}
	logger.Debugw("removed container", "container_id", containerID)
	return nil
}

// GetWorkloadInfo returns information about a container, including its
// published port mappings.
func (c *Client) GetWorkloadInfo(ctx context.Context, containerID string) (container.ContainerInfo, error) {
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return container.ContainerInfo{}, container.NewError(container.ErrContainerNotFound, containerID, "container not found")
		}
		return container.ContainerInfo{}, container.NewError(err, containerID, "failed to inspect container")
	}

	created, err := time.Parse(time.RFC3339Nano, info.Created)
	if err != nil {
		created = time.Time{}
	}

	state := ""
	if info.State != nil {
		state = info.State.Status
	}

	return container.ContainerInfo{
		ID:      info.ID,
		Name:    info.Name,
		Image:   info.Config.Image,
		State:   state,
		Labels:  info.Config.Labels,
		Ports:   parsePortMappings(info.NetworkSettings),
		Created: created,
	}, nil
}

// ListWorkloads lists all containers carrying the managed label, including
// stopped ones.
func (c *Client) ListWorkloads(ctx context.Context) ([]container.ContainerInfo, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", container.LabelKey+"="+container.LabelValue)

	containers, err := c.api.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, container.NewError(err, "", "failed to list containers")
	}

	result := make([]container.ContainerInfo, 0, len(containers))
	for _, summary := range containers {
		name := ""
		if len(summary.Names) > 0 {
			name = strings.TrimPrefix(summary.Names[0], "/")
		}

		ports := make([]container.PortMapping, 0, len(summary.Ports))
		for _, p := range summary.Ports {
			ports = append(ports, container.PortMapping{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
			})
		}

		result = append(result, container.ContainerInfo{
			ID:      summary.ID,
			Name:    name,
			Image:   summary.Image,
			State:   summary.State,
			Labels:  summary.Labels,
			Ports:   ports,
			Created: time.Unix(summary.Created, 0),
		})
	}
	return result, nil
}

func parsePortMappings(settings *dockercontainer.NetworkSettings) []container.PortMapping {
	if settings == nil {
		return nil
	}
	ports := make([]container.PortMapping, 0, len(settings.Ports))
	for port, bindings := range settings.Ports {
		for _, binding := range bindings {
			hostPort, err := strconv.Atoi(binding.HostPort)
			if err != nil {
				continue
			}
			ports = append(ports, container.PortMapping{
				ContainerPort: port.Int(),
				HostPort:      hostPort,
				Protocol:      port.Proto(),
			})
		}
	}
	return ports
}

// setupPorts exposes each guest port and binds it to an ephemeral host port.
func setupPorts(config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, exposedPorts []int) error {
	if len(exposedPorts) == 0 {
		return nil
	}
	config.ExposedPorts = nat.PortSet{}
	hostConfig.PortBindings = nat.PortMap{}
	for _, port := range exposedPorts {
		natPort, err := nat.NewPort("tcp", strconv.Itoa(port))
		if err != nil {
			return fmt.Errorf("failed to parse port %d: %w", port, err)
		}
		config.ExposedPorts[natPort] = struct{}{}
		// Empty host port means the daemon assigns a free ephemeral port.
		hostConfig.PortBindings[natPort] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}
	}
	return nil
}

func envList(envVars map[string]string) []string {
	env := make([]string, 0, len(envVars))
	for k, v := range envVars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func managedLabels(labels map[string]string) map[string]string {
	merged := map[string]string{container.LabelKey: container.LabelValue}
	for k, v := range labels {
		merged[k] = v
	}
	return merged
}
