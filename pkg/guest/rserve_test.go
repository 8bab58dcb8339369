package guest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	evalFunc func(command string) (any, error)
}

func (f *fakeEvaluator) Eval(command string) (any, error) {
	return f.evalFunc(command)
}

func newTestTransport(t *testing.T, eval func(command string) (any, error)) *RserveTransport {
	t.Helper()
	backend, err := New(BackendR)
	require.NoError(t, err)
	transport := NewRserveTransport(49999, backend)
	transport.dial = func(_ string, _ int64) (evaluator, error) {
		return &fakeEvaluator{evalFunc: eval}, nil
	}
	return transport
}

func TestRserveExecuteSuccess(t *testing.T) {
	t.Parallel()

	var sentCommand string
	transport := newTestTransport(t, func(command string) (any, error) {
		sentCommand = command
		return map[string]any{
			"output":       "hi\n",
			"result":       "[1] 4",
			"error":        "",
			"elapsed_secs": 0.02,
		}, nil
	})

	result, err := transport.Execute(context.Background(), "print('hi'); 2+2", 30)
	require.NoError(t, err)

	assert.Equal(t, "hi\n", string(result.Output))
	assert.Equal(t, "[1] 4", result.Value)
	assert.Empty(t, result.ErrorText)
	assert.False(t, result.TimedOut)
	assert.InDelta(t, 0.02, result.ElapsedSecs, 0.0001)

	// The command sent over the wire is the harness, not the raw code.
	assert.Contains(t, sentCommand, "setTimeLimit")
	assert.Contains(t, sentCommand, "2+2")
}

func TestRserveExecuteGuestError(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(string) (any, error) {
		return map[string]any{
			"output":       "",
			"result":       "",
			"error":        "object 'x' not found",
			"elapsed_secs": 0.01,
		}, nil
	})

	result, err := transport.Execute(context.Background(), "x", 30)
	require.NoError(t, err)
	assert.Equal(t, "object 'x' not found", result.ErrorText)
	assert.False(t, result.TimedOut)
}

func TestRserveExecuteGuestTimeout(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(string) (any, error) {
		return map[string]any{
			"output":       "",
			"result":       "",
			"error":        "reached elapsed time limit",
			"elapsed_secs": 1.01,
		}, nil
	})

	result, err := transport.Execute(context.Background(), "while(TRUE){}", 1)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.GreaterOrEqual(t, result.ElapsedSecs, 1.0)
}

func TestRserveExecuteHostDeadline(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(string) (any, error) {
		// Simulate a hung evaluator that never answers.
		time.Sleep(10 * time.Second)
		return nil, nil
	})

	start := time.Now()
	result, err := transport.Execute(context.Background(), "while(TRUE){}", 0.1)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	// Host deadline is the guest limit plus slack.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRserveExecuteDialError(t *testing.T) {
	t.Parallel()

	backend, err := New(BackendR)
	require.NoError(t, err)
	transport := NewRserveTransport(49999, backend)
	transport.dial = func(string, int64) (evaluator, error) {
		return nil, errors.New("connection refused")
	}

	_, err = transport.Execute(context.Background(), "1", 30)
	assert.Error(t, err)
}

func TestRserveExecuteEvalError(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(string) (any, error) {
		return nil, errors.New("eval failed")
	})

	_, err := transport.Execute(context.Background(), "1", 30)
	assert.Error(t, err)
}

func TestDecodeEvalResponseRejectsUnexpectedShape(t *testing.T) {
	t.Parallel()

	_, err := decodeEvalResponse("not a record", 0.1)
	assert.Error(t, err)
}

func TestDecodeEvalResponseFallsBackToHostElapsed(t *testing.T) {
	t.Parallel()

	result, err := decodeEvalResponse(map[string]any{"output": "x"}, 0.7)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, result.ElapsedSecs, 0.0001)
}
