package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.SandboxTimeout)
	assert.Equal(t, 10, cfg.MaxSandboxes)
	assert.Equal(t, BackendPython, cfg.Backend)
	assert.Empty(t, cfg.DockerImage)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, 100000, cfg.MaxCodeChars)
	assert.Equal(t, 65536, cfg.MaxOutputBytes)
	assert.Equal(t, 1048576, cfg.MaxFileReadBytes)
	assert.Equal(t, 1048576, cfg.MaxFileWriteBytes)
	assert.InDelta(t, 30.0, cfg.DefaultExecTimeoutSecs, 0.0001)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SANDBOX_BACKEND", "r")
	t.Setenv("MAX_SANDBOXES", "3")
	t.Setenv("SANDBOX_TIMEOUT", "60")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DEFAULT_EXEC_TIMEOUT_SECS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendR, cfg.Backend)
	assert.Equal(t, 3, cfg.MaxSandboxes)
	assert.Equal(t, 60, cfg.SandboxTimeout)
	assert.Equal(t, "127.0.0.1", cfg.DBHost)
	assert.InDelta(t, 2.5, cfg.DefaultExecTimeoutSecs, 0.0001)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"unknown backend", "SANDBOX_BACKEND", "julia"},
		{"zero sandboxes", "MAX_SANDBOXES", "0"},
		{"negative timeout", "SANDBOX_TIMEOUT", "-1"},
		{"zero exec timeout", "DEFAULT_EXEC_TIMEOUT_SECS", "0"},
		{"zero output cap", "MAX_OUTPUT_BYTES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
