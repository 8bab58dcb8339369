// Package config contains the definition of the application config structure
// and the logic required to load it from the environment.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Backend names accepted by SANDBOX_BACKEND.
const (
	// BackendPython is the stateless Python backend.
	BackendPython = "python"
	// BackendR is the persistent R backend (Rserve).
	BackendR = "r"
)

// Config represents the configuration of the application. It is constructed
// once at startup and treated as immutable afterwards.
type Config struct {
	// SandboxTimeout is the idle time in seconds after which a session is reaped.
	SandboxTimeout int

	// MaxSandboxes is the hard cap on concurrent sessions.
	MaxSandboxes int

	// Backend selects the guest backend ("python" or "r").
	Backend string

	// DockerImage is the guest image tag. Empty means the backend default.
	DockerImage string

	// DockerHost is the container runtime endpoint. Empty means socket discovery.
	DockerHost string

	// LogLevel is the log verbosity.
	LogLevel string

	// WorkspaceRoot enables persistent bind-mounted workspaces when set.
	WorkspaceRoot string

	// Database connection parameters forwarded into the guest environment.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// MaxCodeChars rejects oversize code before any container call.
	MaxCodeChars int

	// MaxOutputBytes is the default per-call output cap.
	MaxOutputBytes int

	// MaxFileReadBytes and MaxFileWriteBytes cap file transfer sizes.
	MaxFileReadBytes  int
	MaxFileWriteBytes int

	// DefaultExecTimeoutSecs is the default per-call wall clock limit.
	DefaultExecTimeoutSecs float64

	// MetricsAddr starts a Prometheus /metrics listener when non-empty.
	MetricsAddr string
}

// envBindings maps viper keys to the environment variables they load from.
var envBindings = map[string]string{
	"sandbox_timeout":           "SANDBOX_TIMEOUT",
	"max_sandboxes":             "MAX_SANDBOXES",
	"sandbox_backend":           "SANDBOX_BACKEND",
	"docker_image":              "DOCKER_IMAGE",
	"docker_host":               "DOCKER_HOST",
	"log_level":                 "LOG_LEVEL",
	"workspace_root":            "WORKSPACE_ROOT",
	"db_host":                   "DB_HOST",
	"db_port":                   "DB_PORT",
	"db_user":                   "DB_USER",
	"db_password":               "DB_PASSWORD",
	"db_name":                   "DB_NAME",
	"max_code_chars":            "MAX_CODE_CHARS",
	"max_output_bytes":          "MAX_OUTPUT_BYTES",
	"max_file_read_bytes":       "MAX_FILE_READ_BYTES",
	"max_file_write_bytes":      "MAX_FILE_WRITE_BYTES",
	"default_exec_timeout_secs": "DEFAULT_EXEC_TIMEOUT_SECS",
	"metrics_addr":              "METRICS_ADDR",
}

// Load reads the configuration from the environment, applying defaults for
// anything unset, and validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("sandbox_timeout", 300)
	v.SetDefault("max_sandboxes", 10)
	v.SetDefault("sandbox_backend", BackendPython)
	v.SetDefault("docker_image", "")
	v.SetDefault("docker_host", "")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("workspace_root", "")
	v.SetDefault("db_host", "")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "")
	v.SetDefault("max_code_chars", 100000)
	v.SetDefault("max_output_bytes", 65536)
	v.SetDefault("max_file_read_bytes", 1048576)
	v.SetDefault("max_file_write_bytes", 1048576)
	v.SetDefault("default_exec_timeout_secs", 30.0)
	v.SetDefault("metrics_addr", "")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		SandboxTimeout:         v.GetInt("sandbox_timeout"),
		MaxSandboxes:           v.GetInt("max_sandboxes"),
		Backend:                v.GetString("sandbox_backend"),
		DockerImage:            v.GetString("docker_image"),
		DockerHost:             v.GetString("docker_host"),
		LogLevel:               v.GetString("log_level"),
		WorkspaceRoot:          v.GetString("workspace_root"),
		DBHost:                 v.GetString("db_host"),
		DBPort:                 v.GetInt("db_port"),
		DBUser:                 v.GetString("db_user"),
		DBPassword:             v.GetString("db_password"),
		DBName:                 v.GetString("db_name"),
		MaxCodeChars:           v.GetInt("max_code_chars"),
		MaxOutputBytes:         v.GetInt("max_output_bytes"),
		MaxFileReadBytes:       v.GetInt("max_file_read_bytes"),
		MaxFileWriteBytes:      v.GetInt("max_file_write_bytes"),
		DefaultExecTimeoutSecs: v.GetFloat64("default_exec_timeout_secs"),
		MetricsAddr:            v.GetString("metrics_addr"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend != BackendPython && c.Backend != BackendR {
		return fmt.Errorf("invalid SANDBOX_BACKEND %q (valid backends: %s, %s)", c.Backend, BackendPython, BackendR)
	}
	if c.MaxSandboxes <= 0 {
		return fmt.Errorf("MAX_SANDBOXES must be > 0, got %d", c.MaxSandboxes)
	}
	if c.SandboxTimeout <= 0 {
		return fmt.Errorf("SANDBOX_TIMEOUT must be > 0, got %d", c.SandboxTimeout)
	}
	if c.DefaultExecTimeoutSecs <= 0 {
		return fmt.Errorf("DEFAULT_EXEC_TIMEOUT_SECS must be > 0, got %v", c.DefaultExecTimeoutSecs)
	}
	for name, value := range map[string]int{
		"MAX_CODE_CHARS":       c.MaxCodeChars,
		"MAX_OUTPUT_BYTES":     c.MaxOutputBytes,
		"MAX_FILE_READ_BYTES":  c.MaxFileReadBytes,
		"MAX_FILE_WRITE_BYTES": c.MaxFileWriteBytes,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", name, value)
		}
	}
	return nil
}
