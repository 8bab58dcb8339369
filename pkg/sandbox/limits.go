package sandbox

import (
	"math"
)

// ExecutionLimits bound a single execution call. Immutable after parsing.
type ExecutionLimits struct {
	// MaxDurationSecs is the wall-clock limit enforced in the guest, with
	// the host transport deadline set slightly above it.
	MaxDurationSecs float64
	// MaxOutputBytes caps the returned output, counted in UTF-8 bytes.
	MaxOutputBytes int
}

// ParseLimits builds ExecutionLimits from a caller-supplied payload. A nil
// payload yields the defaults. Unknown keys are ignored; malformed or
// non-positive values are rejected with a field-specific message.
func ParseLimits(payload any, defaults ExecutionLimits) (ExecutionLimits, error) {
	if payload == nil {
		return defaults, nil
	}

	fields, ok := payload.(map[string]any)
	if !ok {
		return ExecutionLimits{}, NewError(CodeInvalidLimits, "limits must be an object")
	}

	limits := defaults

	if raw, present := fields["max_duration_secs"]; present {
		secs, ok := toFloat(raw)
		if !ok {
			return ExecutionLimits{}, NewError(CodeInvalidLimits, "max_duration_secs must be a number")
		}
		if secs <= 0 {
			return ExecutionLimits{}, NewError(CodeInvalidLimits, "max_duration_secs must be > 0")
		}
		limits.MaxDurationSecs = secs
	}

	if raw, present := fields["max_output_bytes"]; present {
		f, ok := toFloat(raw)
		if !ok || f != math.Trunc(f) {
			return ExecutionLimits{}, NewError(CodeInvalidLimits, "max_output_bytes must be an integer")
		}
		if f <= 0 {
			return ExecutionLimits{}, NewError(CodeInvalidLimits, "max_output_bytes must be > 0")
		}
		limits.MaxOutputBytes = int(f)
	}

	return limits, nil
}

// toFloat accepts the numeric types that JSON decoding and Go callers
// produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
