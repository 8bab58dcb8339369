package docker

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omcp/sandbox-mcp/pkg/container"
)

// fakeDockerAPI implements dockerAPI with overridable behavior per method.
type fakeDockerAPI struct {
	execCreateFunc  func(ctx context.Context, containerID string, options dockercontainer.ExecOptions) (dockercontainer.ExecCreateResponse, error)
	execAttachFunc  func(ctx context.Context, execID string, options dockercontainer.ExecAttachOptions) (types.HijackedResponse, error)
	execInspectFunc func(ctx context.Context, execID string) (dockercontainer.ExecInspect, error)
	listFunc        func(ctx context.Context, options dockercontainer.ListOptions) ([]dockercontainer.Summary, error)
}

func (*fakeDockerAPI) Ping(context.Context) (types.Ping, error) {
	return types.Ping{}, nil
}

func (*fakeDockerAPI) ContainerCreate(
	context.Context, *dockercontainer.Config, *dockercontainer.HostConfig,
	*network.NetworkingConfig, *v1.Platform, string,
) (dockercontainer.CreateResponse, error) {
	return dockercontainer.CreateResponse{ID: "test-container"}, nil
}

func (*fakeDockerAPI) ContainerStart(context.Context, string, dockercontainer.StartOptions) error {
	return nil
}

func (*fakeDockerAPI) ContainerStop(context.Context, string, dockercontainer.StopOptions) error {
	return nil
}

func (*fakeDockerAPI) ContainerRemove(context.Context, string, dockercontainer.RemoveOptions) error {
	return nil
}

func (*fakeDockerAPI) ContainerInspect(context.Context, string) (dockercontainer.InspectResponse, error) {
	return dockercontainer.InspectResponse{}, nil
}

func (f *fakeDockerAPI) ContainerList(
	ctx context.Context, options dockercontainer.ListOptions,
) ([]dockercontainer.Summary, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, options)
	}
	return nil, nil
}

func (f *fakeDockerAPI) ContainerExecCreate(
	ctx context.Context, containerID string, options dockercontainer.ExecOptions,
) (dockercontainer.ExecCreateResponse, error) {
	if f.execCreateFunc != nil {
		return f.execCreateFunc(ctx, containerID, options)
	}
	return dockercontainer.ExecCreateResponse{ID: "test-exec"}, nil
}

func (f *fakeDockerAPI) ContainerExecAttach(
	ctx context.Context, execID string, options dockercontainer.ExecAttachOptions,
) (types.HijackedResponse, error) {
	if f.execAttachFunc != nil {
		return f.execAttachFunc(ctx, execID, options)
	}
	return types.HijackedResponse{}, nil
}

func (f *fakeDockerAPI) ContainerExecInspect(ctx context.Context, execID string) (dockercontainer.ExecInspect, error) {
	if f.execInspectFunc != nil {
		return f.execInspectFunc(ctx, execID)
	}
	return dockercontainer.ExecInspect{}, nil
}

func (*fakeDockerAPI) CopyFromContainer(context.Context, string, string) (io.ReadCloser, dockercontainer.PathStat, error) {
	return io.NopCloser(bytes.NewReader(nil)), dockercontainer.PathStat{}, nil
}

func (*fakeDockerAPI) CopyToContainer(context.Context, string, string, io.Reader, dockercontainer.CopyToContainerOptions) error {
	return nil
}

func (*fakeDockerAPI) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

// hijackedStream builds a HijackedResponse whose reader yields the given
// stdout and stderr payloads in the daemon's multiplexed framing.
func hijackedStream(t *testing.T, stdout, stderr string) types.HijackedResponse {
	t.Helper()

	var framed bytes.Buffer
	if stdout != "" {
		_, err := stdcopy.NewStdWriter(&framed, stdcopy.Stdout).Write([]byte(stdout))
		require.NoError(t, err)
	}
	if stderr != "" {
		_, err := stdcopy.NewStdWriter(&framed, stdcopy.Stderr).Write([]byte(stderr))
		require.NoError(t, err)
	}

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return types.HijackedResponse{
		Conn:   clientConn,
		Reader: bufio.NewReader(bytes.NewReader(framed.Bytes())),
	}
}

func TestExecInWorkload(t *testing.T) {
	t.Parallel()

	api := &fakeDockerAPI{
		execAttachFunc: func(_ context.Context, _ string, _ dockercontainer.ExecAttachOptions) (types.HijackedResponse, error) {
			return hijackedStream(t, "hello\n", "warning\n"), nil
		},
		execInspectFunc: func(_ context.Context, _ string) (dockercontainer.ExecInspect, error) {
			return dockercontainer.ExecInspect{ExitCode: 3}, nil
		},
	}
	c := &Client{api: api}

	result, err := c.ExecInWorkload(context.Background(), "cid", []string{"python3", "-c", "print('hello')"}, "/sandbox")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, string(result.Output), "hello")
	assert.Contains(t, string(result.Output), "warning")
}

func TestSetupPorts(t *testing.T) {
	t.Parallel()

	config := &dockercontainer.Config{}
	hostConfig := &dockercontainer.HostConfig{}
	require.NoError(t, setupPorts(config, hostConfig, []int{6311}))

	port := nat.Port("6311/tcp")
	_, exposed := config.ExposedPorts[port]
	assert.True(t, exposed)

	bindings := hostConfig.PortBindings[port]
	require.Len(t, bindings, 1)
	assert.Equal(t, "127.0.0.1", bindings[0].HostIP)
	assert.Empty(t, bindings[0].HostPort, "host port should be daemon-assigned")
}

func TestSetupPortsNoneExposed(t *testing.T) {
	t.Parallel()

	config := &dockercontainer.Config{}
	hostConfig := &dockercontainer.HostConfig{}
	require.NoError(t, setupPorts(config, hostConfig, nil))
	assert.Nil(t, config.ExposedPorts)
	assert.Nil(t, hostConfig.PortBindings)
}

func TestParsePortMappings(t *testing.T) {
	t.Parallel()

	settings := &dockercontainer.NetworkSettings{}
	settings.Ports = nat.PortMap{
		"6311/tcp": []nat.PortBinding{
			{HostIP: "127.0.0.1", HostPort: "49213"},
			{HostIP: "::1", HostPort: "not-a-port"},
		},
	}

	ports := parsePortMappings(settings)
	require.Len(t, ports, 1)
	assert.Equal(t, 6311, ports[0].ContainerPort)
	assert.Equal(t, 49213, ports[0].HostPort)
	assert.Equal(t, "tcp", ports[0].Protocol)

	assert.Nil(t, parsePortMappings(nil))
}

func TestManagedLabels(t *testing.T) {
	t.Parallel()

	labels := managedLabels(map[string]string{container.LabelSessionID: "abc"})
	assert.Equal(t, container.LabelValue, labels[container.LabelKey])
	assert.Equal(t, "abc", labels[container.LabelSessionID])
}

func TestEnvList(t *testing.T) {
	t.Parallel()

	env := envList(map[string]string{"DB_HOST": "host.docker.internal"})
	assert.Equal(t, []string{"DB_HOST=host.docker.internal"}, env)
}

func TestListWorkloadsFiltersByLabel(t *testing.T) {
	t.Parallel()

	var gotOptions dockercontainer.ListOptions
	api := &fakeDockerAPI{
		listFunc: func(_ context.Context, options dockercontainer.ListOptions) ([]dockercontainer.Summary, error) {
			gotOptions = options
			return []dockercontainer.Summary{{
				ID:     "abc123",
				Names:  []string{"/sandbox-mcp-abc"},
				Image:  "sandbox-mcp-python:latest",
				State:  "running",
				Labels: map[string]string{container.LabelKey: container.LabelValue},
				Ports:  []dockercontainer.Port{{PrivatePort: 6311, PublicPort: 49213, Type: "tcp"}},
			}}, nil
		},
	}
	c := &Client{api: api}

	infos, err := c.ListWorkloads(context.Background())
	require.NoError(t, err)

	assert.True(t, gotOptions.All, "stopped containers must be included")
	assert.Equal(t, []string{container.LabelKey + "=" + container.LabelValue}, gotOptions.Filters.Get("label"))

	require.Len(t, infos, 1)
	assert.Equal(t, "sandbox-mcp-abc", infos[0].Name, "leading slash stripped")
	require.Len(t, infos[0].Ports, 1)
	assert.Equal(t, 49213, infos[0].Ports[0].HostPort)
}

func TestDeployWorkloadDefaultsOptions(t *testing.T) {
	t.Parallel()

	c := &Client{api: &fakeDockerAPI{}}
	id, err := c.DeployWorkload(context.Background(), "img", "name", nil, &container.PermissionConfig{NetworkMode: "none"})
	require.NoError(t, err)
	assert.Equal(t, "test-container", id)
}
