package guest

import (
	"context"
	"errors"
	"time"

	"github.com/omcp/sandbox-mcp/pkg/container"
	"github.com/omcp/sandbox-mcp/pkg/permissions"
)

// ExecTransport runs code through the container runtime's exec primitive.
// Used by stateless backends; no guest state survives between calls.
type ExecTransport struct {
	runtime     container.Runtime
	containerID string
	backend     Backend
}

// NewExecTransport creates a transport that execs into the given container.
func NewExecTransport(rt container.Runtime, containerID string, backend Backend) *ExecTransport {
	return &ExecTransport{
		runtime:     rt,
		containerID: containerID,
		backend:     backend,
	}
}

// Execute runs code in the container and waits for it to finish. The wall
// clock limit is enforced with a context deadline; there is no guest-side
// limit for exec-based backends.
func (t *ExecTransport) Execute(ctx context.Context, code string, maxDurationSecs float64) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, secsToDuration(maxDurationSecs))
	defer cancel()

	start := time.Now()
	execResult, err := t.runtime.ExecInWorkload(ctx, t.containerID, t.backend.ExecArgv(code), permissions.SandboxDir)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			var output []byte
			if execResult != nil {
				output = execResult.Output
			}
			return &Result{
				Output:      output,
				ElapsedSecs: elapsed,
				TimedOut:    true,
				ExitCode:    -1,
			}, nil
		}
		return nil, err
	}

	result := &Result{
		Output:      execResult.Output,
		ExitCode:    execResult.ExitCode,
		ElapsedSecs: elapsed,
	}
	if execResult.ExitCode != 0 {
		result.ErrorText = "process exited with a non-zero status"
	}
	return result, nil
}

func secsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
