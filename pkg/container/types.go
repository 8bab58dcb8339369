// Package container defines the interface to the container runtime that
// backs sandbox sessions, along with the types shared by its implementations.
package container

import (
	"context"
	"io"
	"time"
)

// Labels applied to every container this service creates.
const (
	// LabelKey marks containers managed by sandbox-mcp.
	LabelKey = "sandbox-mcp"
	// LabelValue is the value of LabelKey on managed containers.
	LabelValue = "true"
	// LabelSessionID records the session a container belongs to.
	LabelSessionID = "sandbox-mcp-session-id"
)

// Runtime defines the interface for container runtimes.
type Runtime interface {
	// DeployWorkload creates and starts a sandbox container. It returns the
	// container ID on success.
	DeployWorkload(ctx context.Context, image string, name string,
		options *WorkloadOptions, permissionConfig *PermissionConfig) (string, error)

	// StopWorkload stops a running container, allowing it timeoutSecs to
	// shut down before it is killed. Stopping an already-stopped or missing
	// container is not an error.
	StopWorkload(ctx context.Context, containerID string, timeoutSecs int) error

	// RemoveWorkload deletes a container. Removing a missing container is
	// not an error.
	RemoveWorkload(ctx context.Context, containerID string) error

	// GetWorkloadInfo returns information about a container.
	GetWorkloadInfo(ctx context.Context, containerID string) (ContainerInfo, error)

	// ListWorkloads returns all containers managed by this service,
	// including stopped ones.
	ListWorkloads(ctx context.Context) ([]ContainerInfo, error)

	// ExecInWorkload runs argv inside a running container and waits for it
	// to finish. workDir may be empty to use the container default.
	ExecInWorkload(ctx context.Context, containerID string, argv []string, workDir string) (*ExecResult, error)

	// CopyFromWorkload returns a tar archive stream of the given path inside
	// the container. The caller must close the returned reader.
	CopyFromWorkload(ctx context.Context, containerID string, srcPath string) (io.ReadCloser, error)

	// CopyToWorkload extracts a tar archive stream into destDir inside the
	// container.
	CopyToWorkload(ctx context.Context, containerID string, destDir string, archive io.Reader) error

	// IsRunning checks whether the runtime endpoint is reachable.
	IsRunning(ctx context.Context) error
}

// WorkloadOptions configures a sandbox container deployment.
type WorkloadOptions struct {
	// Command is the container entrypoint command. Nil keeps the image default.
	Command []string

	// EnvVars are environment variables to set in the container.
	EnvVars map[string]string

	// Labels are labels to apply to the container.
	Labels map[string]string

	// User is the UID the container process runs as.
	User string

	// WorkingDir is the initial working directory.
	WorkingDir string

	// MemoryBytes is the memory limit. Zero means unlimited.
	MemoryBytes int64

	// CPUPeriod and CPUQuota implement the CFS CPU cap.
	CPUPeriod int64
	CPUQuota  int64

	// ExposedPorts lists guest ports to publish on ephemeral host ports.
	ExposedPorts []int

	// AutoRemove deletes the container when it exits.
	AutoRemove bool
}

// NewWorkloadOptions creates a WorkloadOptions with empty map fields
// initialized.
func NewWorkloadOptions() *WorkloadOptions {
	return &WorkloadOptions{
		EnvVars: make(map[string]string),
		Labels:  make(map[string]string),
	}
}

// PermissionConfig is the mount, network, and capability configuration
// applied to a sandbox container.
type PermissionConfig struct {
	// Mounts is the list of volume mounts.
	Mounts []Mount
	// NetworkMode is the network mode ("none" or "bridge").
	NetworkMode string
	// CapDrop is the list of capabilities to drop.
	CapDrop []string
	// CapAdd is the list of capabilities to add.
	CapAdd []string
	// SecurityOpt is the list of security options.
	SecurityOpt []string
	// ReadOnlyRootfs mounts the container root filesystem read-only.
	ReadOnlyRootfs bool
	// Tmpfs maps mount points to tmpfs options for writable scratch space.
	Tmpfs map[string]string
	// ExtraHosts adds entries to the container's /etc/hosts.
	ExtraHosts []string
}

// Mount represents a volume mount.
type Mount struct {
	// Source is the host path.
	Source string
	// Target is the path inside the container.
	Target string
	// ReadOnly mounts the volume read-only.
	ReadOnly bool
}

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	// ID is the container ID.
	ID string
	// Name is the container name.
	Name string
	// Image is the container image.
	Image string
	// State is the container state (running, exited, ...).
	State string
	// Labels are the container labels.
	Labels map[string]string
	// Ports are the published port mappings.
	Ports []PortMapping
	// Created is the creation time.
	Created time.Time
}

// PortMapping represents a published container port.
type PortMapping struct {
	// ContainerPort is the port inside the container.
	ContainerPort int
	// HostPort is the port on the host.
	HostPort int
	// Protocol is the protocol (tcp, udp).
	Protocol string
}

// ExecResult is the outcome of an ExecInWorkload call.
type ExecResult struct {
	// Output is the combined stdout and stderr of the command.
	Output []byte
	// ExitCode is the command exit code.
	ExitCode int
}
