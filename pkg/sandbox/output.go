package sandbox

import (
	"strings"
	"unicode/utf8"
)

// SanitizeOutput converts raw guest output to valid UTF-8 (invalid sequences
// become the replacement character) and truncates it to maxBytes without
// splitting a code point. The second return value reports whether truncation
// occurred.
func SanitizeOutput(raw []byte, maxBytes int) (string, bool) {
	s := strings.ToValidUTF8(string(raw), "�")
	return truncateUTF8(s, maxBytes)
}

func truncateUTF8(s string, maxBytes int) (string, bool) {
	if len(s) <= maxBytes {
		return s, false
	}
	cut := maxBytes
	// Back up to the start of the rune straddling the boundary.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
