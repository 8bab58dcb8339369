package container

import (
	"errors"
	"fmt"
)

// Common errors returned by runtime implementations.
var (
	// ErrContainerNotFound is returned when a container cannot be found.
	ErrContainerNotFound = errors.New("container not found")
	// ErrContainerNotRunning is returned when an operation needs a running
	// container but the container is stopped.
	ErrContainerNotRunning = errors.New("container not running")
	// ErrPathNotFound is returned when a path inside a container does not
	// exist.
	ErrPathNotFound = errors.New("path not found in container")
	// ErrRuntimeNotFound is returned when no container runtime endpoint can
	// be reached.
	ErrRuntimeNotFound = errors.New("container runtime not found")
	// ErrAttachFailed is returned when attaching to an exec stream fails.
	ErrAttachFailed = errors.New("failed to attach to container")
)

// Error represents an error from the container runtime with the container
// it relates to.
type Error struct {
	// Err is the underlying error.
	Err error
	// ContainerID is the ID of the container involved, if any.
	ContainerID string
	// Message is an optional additional message.
	Message string
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new container error.
func NewError(err error, containerID, message string) *Error {
	return &Error{
		Err:         err,
		ContainerID: containerID,
		Message:     message,
	}
}
