package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = ExecutionLimits{MaxDurationSecs: 30, MaxOutputBytes: 65536}

func TestParseLimitsNilUsesDefaults(t *testing.T) {
	t.Parallel()

	limits, err := ParseLimits(nil, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, testDefaults, limits)
}

func TestParseLimitsOverrides(t *testing.T) {
	t.Parallel()

	limits, err := ParseLimits(map[string]any{
		"max_duration_secs": 1.5,
		"max_output_bytes":  float64(1024), // JSON numbers decode as float64
	}, testDefaults)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, limits.MaxDurationSecs, 0.0001)
	assert.Equal(t, 1024, limits.MaxOutputBytes)
}

func TestParseLimitsPartialOverride(t *testing.T) {
	t.Parallel()

	limits, err := ParseLimits(map[string]any{"max_duration_secs": 2}, testDefaults)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, limits.MaxDurationSecs, 0.0001)
	assert.Equal(t, testDefaults.MaxOutputBytes, limits.MaxOutputBytes)
}

func TestParseLimitsRejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload any
	}{
		{"not an object", "fast"},
		{"string duration", map[string]any{"max_duration_secs": "10"}},
		{"zero duration", map[string]any{"max_duration_secs": 0}},
		{"negative duration", map[string]any{"max_duration_secs": -1.0}},
		{"fractional bytes", map[string]any{"max_output_bytes": 10.5}},
		{"zero bytes", map[string]any{"max_output_bytes": 0}},
		{"boolean bytes", map[string]any{"max_output_bytes": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseLimits(tt.payload, testDefaults)
			require.Error(t, err)
			assert.Equal(t, CodeInvalidLimits, AsError(err, "unexpected").Code)
		})
	}
}

func TestParseLimitsIgnoresUnknownKeys(t *testing.T) {
	t.Parallel()

	limits, err := ParseLimits(map[string]any{"max_memory": 1}, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, testDefaults, limits)
}
