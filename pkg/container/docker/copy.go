package docker

import (
	"context"
	"io"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/omcp/sandbox-mcp/pkg/container"
)

// CopyFromWorkload returns a tar archive stream of srcPath inside the
// container. The caller must close the returned reader.
func (c *Client) CopyFromWorkload(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	reader, _, err := c.api.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		// A 404 here means the path is missing, not the container: the
		// manager only copies from containers it has already looked up.
		if client.IsErrNotFound(err) {
			return nil, container.NewError(container.ErrPathNotFound, containerID, srcPath)
		}
		return nil, container.NewError(err, containerID, "failed to copy from container")
	}
	return reader, nil
}

// CopyToWorkload extracts a tar archive stream into destDir inside the
// container. destDir must already exist.
func (c *Client) CopyToWorkload(ctx context.Context, containerID, destDir string, archive io.Reader) error {
	err := c.api.CopyToContainer(ctx, containerID, destDir, archive, dockercontainer.CopyToContainerOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return container.NewError(container.ErrContainerNotFound, containerID, err.Error())
		}
		return container.NewError(err, containerID, "failed to copy to container")
	}
	return nil
}
