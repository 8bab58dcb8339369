// Package guest defines the language backends that run inside sandbox
// containers and the transports used to execute code in them.
package guest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Backend names.
const (
	// BackendPython is the stateless Python backend.
	BackendPython = "python"
	// BackendR is the persistent R backend.
	BackendR = "r"
)

// RservePort is the conventional guest port of the R evaluator.
const RservePort = 6311

// Errors returned by InstallSnippet.
var (
	// ErrUnknownSource is returned for a package source the backend does
	// not support.
	ErrUnknownSource = errors.New("unknown package source")
	// ErrInvalidPackageName is returned when a package name fails
	// validation.
	ErrInvalidPackageName = errors.New("invalid package name")
)

// Result is the outcome of one guest execution.
type Result struct {
	// Output is the raw captured stdout and stderr.
	Output []byte
	// Value is the string form of the expression value, for backends that
	// return one.
	Value string
	// ErrorText is the guest-reported error message, empty on success.
	ErrorText string
	// ExitCode is the process exit code for exec-based backends.
	ExitCode int
	// ElapsedSecs is the wall-clock execution time.
	ElapsedSecs float64
	// TimedOut reports that the execution hit its time limit.
	TimedOut bool
}

// Transport executes code inside a running sandbox container.
type Transport interface {
	Execute(ctx context.Context, code string, maxDurationSecs float64) (*Result, error)
}

// Backend describes a guest language kernel.
type Backend interface {
	// Name returns the backend name.
	Name() string
	// Persistent reports whether guest state survives between executions.
	Persistent() bool
	// DefaultImage is the image used when none is configured.
	DefaultImage() string
	// GuestPort is the evaluator RPC port, or 0 for exec-based backends.
	GuestPort() int
	// Command is the container entrypoint command. Nil keeps the image
	// default.
	Command() []string
	// ExecArgv builds the argv that runs code via the runtime exec
	// primitive. Code is a separate argv element; no shell is involved.
	ExecArgv(code string) []string
	// WrapCode wraps user code in the evaluator harness for persistent
	// backends. Exec-based backends return the code unchanged.
	WrapCode(code string, maxDurationSecs float64) string
	// InstallSnippet returns code that installs a package from the given
	// source when executed in a session.
	InstallSnippet(name, source string) (string, error)
}

// New returns the backend with the given name.
func New(name string) (Backend, error) {
	switch name {
	case BackendPython:
		return &pythonBackend{}, nil
	case BackendR:
		return &rBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

var (
	pythonPackagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	rPackagePattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9.]*$`)
	githubRepoPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

type pythonBackend struct{}

func (*pythonBackend) Name() string         { return BackendPython }
func (*pythonBackend) Persistent() bool     { return false }
func (*pythonBackend) DefaultImage() string { return "sandbox-mcp-python:latest" }
func (*pythonBackend) GuestPort() int       { return 0 }

// Command keeps the container alive so the manager can exec into it.
func (*pythonBackend) Command() []string { return []string{"sleep", "infinity"} }

func (*pythonBackend) ExecArgv(code string) []string {
	return []string{"python3", "-c", code}
}

func (*pythonBackend) WrapCode(code string, _ float64) string {
	return code
}

func (*pythonBackend) InstallSnippet(name, source string) (string, error) {
	switch source {
	case "PyPI":
		if !pythonPackagePattern.MatchString(name) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPackageName, name)
		}
		return pipInstallSnippet("pip install " + name), nil
	case "GitHub":
		if !githubRepoPattern.MatchString(name) {
			return "", fmt.Errorf("%w: %q (expected owner/repo)", ErrInvalidPackageName, name)
		}
		return pipInstallSnippet("pip install git+https://github.com/" + name), nil
	default:
		return "", fmt.Errorf("%w: %q (valid sources: PyPI, GitHub)", ErrUnknownSource, source)
	}
}

// pipInstallSnippet runs pip via subprocess so the install output is
// captured like any other execution.
func pipInstallSnippet(command string) string {
	return fmt.Sprintf(`import subprocess, sys
proc = subprocess.run([sys.executable, "-m"] + %s.split(), capture_output=True, text=True)
sys.stdout.write(proc.stdout)
sys.stderr.write(proc.stderr)
sys.exit(proc.returncode)
`, strconv.Quote(command))
}

type rBackend struct{}

func (*rBackend) Name() string         { return BackendR }
func (*rBackend) Persistent() bool     { return true }
func (*rBackend) DefaultImage() string { return "sandbox-mcp-r:latest" }
func (*rBackend) GuestPort() int       { return RservePort }

// Command is nil: the image entrypoint launches the Rserve evaluator.
func (*rBackend) Command() []string { return nil }

func (*rBackend) ExecArgv(code string) []string {
	return []string{"Rscript", "-e", code}
}

// WrapCode builds the evaluator harness: it redirects output to an
// in-memory sink, applies the elapsed-time limit, evaluates the user code
// in the global environment so state persists, and returns a record of
// {output, result, error, elapsed_secs}. The user code is spliced in as a
// quoted string literal; this splice is the trust boundary for the
// persistent backend.
func (*rBackend) WrapCode(code string, maxDurationSecs float64) string {
	return fmt.Sprintf(`local({
  .sink <- textConnection(".captured", "w", local = TRUE)
  sink(.sink)
  sink(.sink, type = "message")
  .start <- Sys.time()
  .value <- NULL
  .error <- NULL
  setTimeLimit(elapsed = %s, transient = TRUE)
  tryCatch({
    .value <- eval(parse(text = %s), envir = globalenv())
  }, error = function(e) {
    .error <<- conditionMessage(e)
  }, finally = {
    setTimeLimit(elapsed = Inf, transient = TRUE)
    sink(type = "message")
    sink()
    close(.sink)
  })
  .elapsed <- as.numeric(difftime(Sys.time(), .start, units = "secs"))
  list(
    output = paste(.captured, collapse = "\n"),
    result = if (is.null(.value)) "" else paste(utils::capture.output(print(.value)), collapse = "\n"),
    error = if (is.null(.error)) "" else .error,
    elapsed_secs = .elapsed
  )
})`, formatRNumber(maxDurationSecs), quoteRString(code))
}

func (*rBackend) InstallSnippet(name, source string) (string, error) {
	switch source {
	case "CRAN":
		if !rPackagePattern.MatchString(name) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPackageName, name)
		}
		return fmt.Sprintf(
			`install.packages(%s, repos = "https://cloud.r-project.org"); cat("installed", %s, "\n")`,
			quoteRString(name), quoteRString(name)), nil
	case "GitHub":
		if !githubRepoPattern.MatchString(name) {
			return "", fmt.Errorf("%w: %q (expected owner/repo)", ErrInvalidPackageName, name)
		}
		return fmt.Sprintf(
			`if (!requireNamespace("remotes", quietly = TRUE)) install.packages("remotes", repos = "https://cloud.r-project.org"); remotes::install_github(%s)`,
			quoteRString(name)), nil
	default:
		return "", fmt.Errorf("%w: %q (valid sources: CRAN, GitHub)", ErrUnknownSource, source)
	}
}

// quoteRString produces a double-quoted R string literal. Go's escape
// syntax for quotes, backslashes, and \uXXXX sequences is accepted by the
// R parser.
func quoteRString(s string) string {
	return strconv.Quote(s)
}

// formatRNumber renders a float without exponent notation so it reads as a
// plain R numeric literal.
func formatRNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
