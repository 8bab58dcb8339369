package sandbox

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeOutputNoTruncation(t *testing.T) {
	t.Parallel()

	out, truncated := SanitizeOutput([]byte("hello\n"), 100)
	assert.Equal(t, "hello\n", out)
	assert.False(t, truncated)
}

func TestSanitizeOutputExactBoundary(t *testing.T) {
	t.Parallel()

	out, truncated := SanitizeOutput([]byte("12345"), 5)
	assert.Equal(t, "12345", out)
	assert.False(t, truncated)
}

func TestSanitizeOutputTruncates(t *testing.T) {
	t.Parallel()

	out, truncated := SanitizeOutput([]byte("1234567890"), 5)
	assert.Equal(t, "12345", out)
	assert.True(t, truncated)
}

func TestSanitizeOutputNeverSplitsCodePoint(t *testing.T) {
	t.Parallel()

	// "héllo": é is two bytes; a cut at byte 2 would land mid-rune.
	out, truncated := SanitizeOutput([]byte("héllo"), 2)
	assert.True(t, truncated)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "h", out)

	// Multi-byte content of every length stays valid at every cap.
	s := strings.Repeat("日本語", 4)
	for max := 0; max <= len(s); max++ {
		out, _ := SanitizeOutput([]byte(s), max)
		assert.True(t, utf8.ValidString(out), "cap %d", max)
		assert.LessOrEqual(t, len(out), max, "cap %d", max)
	}
}

func TestSanitizeOutputReplacesInvalidBytes(t *testing.T) {
	t.Parallel()

	out, truncated := SanitizeOutput([]byte{'o', 'k', 0xff, 0xfe}, 100)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "ok")
	assert.False(t, truncated)
}
