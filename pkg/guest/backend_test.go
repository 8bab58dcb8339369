package guest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	t.Parallel()

	py, err := New(BackendPython)
	require.NoError(t, err)
	assert.False(t, py.Persistent())
	assert.Equal(t, 0, py.GuestPort())

	r, err := New(BackendR)
	require.NoError(t, err)
	assert.True(t, r.Persistent())
	assert.Equal(t, RservePort, r.GuestPort())

	_, err = New("julia")
	assert.Error(t, err)
}

func TestPythonExecArgv(t *testing.T) {
	t.Parallel()

	py, err := New(BackendPython)
	require.NoError(t, err)

	// Code rides as its own argv element; quoting must never be applied.
	code := `print("hello; rm -rf /")`
	assert.Equal(t, []string{"python3", "-c", code}, py.ExecArgv(code))
	assert.Equal(t, code, py.WrapCode(code, 30))
}

func TestRHarness(t *testing.T) {
	t.Parallel()

	r, err := New(BackendR)
	require.NoError(t, err)

	wrapped := r.WrapCode(`x <- "hi"`, 7.5)

	assert.Contains(t, wrapped, "setTimeLimit(elapsed = 7.5, transient = TRUE)")
	assert.Contains(t, wrapped, "envir = globalenv()")
	assert.Contains(t, wrapped, `sink(.sink, type = "message")`)
	assert.Contains(t, wrapped, "elapsed_secs")
	// The user code is embedded as a string literal with quotes escaped.
	assert.Contains(t, wrapped, `parse(text = "x <- \"hi\"")`)
	// The limit must be reset even on error so the session stays usable.
	assert.Contains(t, wrapped, "setTimeLimit(elapsed = Inf, transient = TRUE)")
}

func TestRHarnessLimitIsPlainNumeral(t *testing.T) {
	t.Parallel()

	r, err := New(BackendR)
	require.NoError(t, err)

	wrapped := r.WrapCode("1", 0.0001)
	assert.Contains(t, wrapped, "elapsed = 0.0001")
	assert.NotContains(t, wrapped, "e-")
}

func TestPythonInstallSnippet(t *testing.T) {
	t.Parallel()

	py, err := New(BackendPython)
	require.NoError(t, err)

	snippet, err := py.InstallSnippet("numpy", "PyPI")
	require.NoError(t, err)
	assert.Contains(t, snippet, "pip install numpy")
	assert.Contains(t, snippet, "subprocess")

	snippet, err = py.InstallSnippet("psf/requests", "GitHub")
	require.NoError(t, err)
	assert.Contains(t, snippet, "git+https://github.com/psf/requests")

	_, err = py.InstallSnippet("numpy", "CRAN")
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = py.InstallSnippet("numpy; import os", "PyPI")
	assert.ErrorIs(t, err, ErrInvalidPackageName)

	_, err = py.InstallSnippet("not-a-repo", "GitHub")
	assert.ErrorIs(t, err, ErrInvalidPackageName)
}

func TestRInstallSnippet(t *testing.T) {
	t.Parallel()

	r, err := New(BackendR)
	require.NoError(t, err)

	snippet, err := r.InstallSnippet("dplyr", "CRAN")
	require.NoError(t, err)
	assert.Contains(t, snippet, `install.packages("dplyr"`)
	assert.Contains(t, snippet, "cloud.r-project.org")

	snippet, err = r.InstallSnippet("tidyverse/dplyr", "GitHub")
	require.NoError(t, err)
	assert.Contains(t, snippet, `remotes::install_github("tidyverse/dplyr")`)

	_, err = r.InstallSnippet("dplyr", "PyPI")
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = r.InstallSnippet(`dplyr"); system("id`, "CRAN")
	assert.ErrorIs(t, err, ErrInvalidPackageName)
}

func TestIsTimeoutMessage(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTimeoutMessage("reached elapsed time limit"))
	assert.True(t, IsTimeoutMessage("Reached Elapsed Time Limit"))
	assert.False(t, IsTimeoutMessage("object 'x' not found"))
	assert.False(t, IsTimeoutMessage(""))
}

func TestQuoteRStringEscapesNewlines(t *testing.T) {
	t.Parallel()

	quoted := quoteRString("a\nb")
	assert.Equal(t, `"a\nb"`, quoted)
	assert.False(t, strings.ContainsRune(quoted, '\n'))
}
