package docker

import (
	"bytes"
	"context"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/omcp/sandbox-mcp/pkg/container"
)

// ExecInWorkload runs argv inside a running container and waits for it to
// finish. Stdout and stderr are interleaved into a single output buffer.
func (c *Client) ExecInWorkload(
	ctx context.Context,
	containerID string,
	argv []string,
	workDir string,
) (*container.ExecResult, error) {
	execOpts := dockercontainer.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workDir,
	}

	execResp, err := c.api.ContainerExecCreate(ctx, containerID, execOpts)
	if err != nil {
		return nil, container.NewError(err, containerID, "failed to create exec")
	}

	attachResp, err := c.api.ContainerExecAttach(ctx, execResp.ID, dockercontainer.ExecAttachOptions{})
	if err != nil {
		return nil, container.NewError(container.ErrAttachFailed, containerID, err.Error())
	}
	defer attachResp.Close()

	// The attached stream multiplexes stdout and stderr; demux both into
	// one buffer to preserve interleaving order.
	var output bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&output, &output, attachResp.Reader)
		done <- copyErr
	}()

	select {
	case <-ctx.Done():
		// Closing the hijacked connection unblocks StdCopy. The exec
		// process itself keeps running in the container.
		attachResp.Close()
		<-done
		return &container.ExecResult{Output: output.Bytes(), ExitCode: -1}, ctx.Err()
	case copyErr := <-done:
		if copyErr != nil {
			return nil, container.NewError(copyErr, containerID, "failed to read exec output")
		}
	}

	inspect, err := c.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, container.NewError(err, containerID, "failed to inspect exec")
	}

	return &container.ExecResult{
		Output:   output.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}
