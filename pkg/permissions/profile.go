// Package permissions defines the permission profiles applied to sandbox
// containers and their conversion to container runtime configuration.
package permissions

import (
	"github.com/omcp/sandbox-mcp/pkg/container"
)

// Profile names.
const (
	// ProfileIsolated is the name of the isolated profile (no network).
	ProfileIsolated = "isolated"
	// ProfileNetwork is the name of the network profile (outbound allowed).
	ProfileNetwork = "network"
)

// Guest filesystem layout.
const (
	// SandboxDir is the working directory inside the guest.
	SandboxDir = "/sandbox"
	// sandboxTmpfsOptions makes the scratch space writable but not executable.
	sandboxTmpfsOptions = "rw,noexec,nosuid,size=500M"
	// tmpTmpfsOptions backs /tmp on a read-only rootfs.
	tmpTmpfsOptions = "rw,noexec,nosuid,size=100M"
)

// hostGatewayEntry resolves host.docker.internal to the host on Linux.
const hostGatewayEntry = "host.docker.internal:host-gateway"

// Profile represents a permission profile for a sandbox container.
type Profile struct {
	// Name is the name of the profile.
	Name string

	// Network defines the network permissions of the profile.
	Network *NetworkPermissions
}

// NetworkPermissions defines network permissions for a sandbox container.
type NetworkPermissions struct {
	// Outbound defines outbound network access.
	Outbound *OutboundNetworkPermissions
}

// OutboundNetworkPermissions defines outbound network permissions.
type OutboundNetworkPermissions struct {
	// AllowAll permits all outbound network traffic.
	AllowAll bool
	// AllowHostGateway adds a host-gateway alias so the guest can reach
	// services on the host.
	AllowHostGateway bool
}

// BuiltinIsolatedProfile returns the built-in profile with no network access.
func BuiltinIsolatedProfile() *Profile {
	return &Profile{
		Name: ProfileIsolated,
		Network: &NetworkPermissions{
			Outbound: &OutboundNetworkPermissions{},
		},
	}
}

// BuiltinNetworkProfile returns the built-in profile with outbound network
// access and a route back to the host for database connections.
func BuiltinNetworkProfile() *Profile {
	return &Profile{
		Name: ProfileNetwork,
		Network: &NetworkPermissions{
			Outbound: &OutboundNetworkPermissions{
				AllowAll:         true,
				AllowHostGateway: true,
			},
		},
	}
}

// ToPermissionConfig converts the profile into the container runtime
// configuration for one sandbox. workspaceHostPath, when non-empty, is bind
// mounted read-write at SandboxDir; otherwise SandboxDir is an ephemeral
// tmpfs lost when the container stops.
func (p *Profile) ToPermissionConfig(workspaceHostPath string) *container.PermissionConfig {
	config := &container.PermissionConfig{
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadOnlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": tmpTmpfsOptions,
		},
	}

	if p.Network != nil && p.Network.Outbound != nil {
		if p.Network.Outbound.AllowAll {
			config.NetworkMode = "bridge"
		}
		if p.Network.Outbound.AllowHostGateway {
			config.ExtraHosts = []string{hostGatewayEntry}
		}
	}

	if workspaceHostPath != "" {
		config.Mounts = []container.Mount{{
			Source: workspaceHostPath,
			Target: SandboxDir,
		}}
	} else {
		config.Tmpfs[SandboxDir] = sandboxTmpfsOptions
	}

	return config
}
