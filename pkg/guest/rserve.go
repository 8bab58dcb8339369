package guest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/senseyeio/roger"
)

// hostDeadlineSlackSecs is added to the guest-side time limit to form the
// host-side deadline, so the guest harness normally wins the race and
// returns a structured error instead of a dropped connection.
const hostDeadlineSlackSecs = 2

// timeoutPhrase is the canonical substring of the R "reached elapsed time
// limit" condition message, matched case-insensitively.
const timeoutPhrase = "elapsed time limit"

// evaluator is the slice of the Rserve client used here; it lets tests
// substitute a fake without a live Rserve.
type evaluator interface {
	Eval(command string) (any, error)
}

// RserveTransport executes code against the persistent in-guest evaluator.
// A fresh connection is opened per call; session state lives in the guest
// process, not the connection.
type RserveTransport struct {
	host    string
	port    int64
	backend Backend

	// dial is swapped out in tests.
	dial func(host string, port int64) (evaluator, error)
}

// NewRserveTransport creates a transport for the evaluator published on the
// given host port.
func NewRserveTransport(hostPort int, backend Backend) *RserveTransport {
	return &RserveTransport{
		host:    "127.0.0.1",
		port:    int64(hostPort),
		backend: backend,
		dial: func(host string, port int64) (evaluator, error) {
			return roger.NewRClient(host, port)
		},
	}
}

type evalOutcome struct {
	value any
	err   error
}

// Execute wraps code in the evaluator harness and issues a single evaluate
// round-trip.
func (t *RserveTransport) Execute(ctx context.Context, code string, maxDurationSecs float64) (*Result, error) {
	client, err := t.dial(t.host, t.port)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to evaluator on port %d: %w", t.port, err)
	}

	wrapped := t.backend.WrapCode(code, maxDurationSecs)
	start := time.Now()

	// The client has no deadline support, so the call runs in a goroutine
	// raced against the host-side deadline. On timeout the goroutine is
	// abandoned; the guest harness aborts the code on its own limit.
	outcomeCh := make(chan evalOutcome, 1)
	go func() {
		value, evalErr := client.Eval(wrapped)
		outcomeCh <- evalOutcome{value: value, err: evalErr}
	}()

	hostDeadline := secsToDuration(maxDurationSecs + hostDeadlineSlackSecs)
	timer := time.NewTimer(hostDeadline)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return &Result{
			ElapsedSecs: time.Since(start).Seconds(),
			TimedOut:    true,
		}, nil
	case outcome := <-outcomeCh:
		if outcome.err != nil {
			return nil, fmt.Errorf("evaluator call failed: %w", outcome.err)
		}
		return decodeEvalResponse(outcome.value, time.Since(start).Seconds())
	}
}

// decodeEvalResponse unpacks the {output, result, error, elapsed_secs}
// record returned by the harness.
func decodeEvalResponse(value any, hostElapsedSecs float64) (*Result, error) {
	record, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected evaluator response type %T", value)
	}

	result := &Result{
		Output:      []byte(stringField(record, "output")),
		Value:       stringField(record, "result"),
		ErrorText:   stringField(record, "error"),
		ElapsedSecs: hostElapsedSecs,
	}
	if elapsed, ok := record["elapsed_secs"].(float64); ok {
		result.ElapsedSecs = elapsed
	}
	if result.ErrorText != "" {
		result.TimedOut = IsTimeoutMessage(result.ErrorText)
	}
	return result, nil
}

func stringField(record map[string]any, key string) string {
	if s, ok := record[key].(string); ok {
		return s
	}
	return ""
}

// IsTimeoutMessage reports whether a guest error message is the evaluator's
// elapsed-time-limit condition.
func IsTimeoutMessage(message string) bool {
	return strings.Contains(strings.ToLower(message), timeoutPhrase)
}
