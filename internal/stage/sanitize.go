package stage

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxPromptRunes is the default input cap applied by Sanitize.
const DefaultMaxPromptRunes = 10000

// truncationMarker is appended when sanitized input exceeds the cap.
const truncationMarker = "... [truncated]"

// Sanitize prepares free-text input for a primary stage call: null bytes are
// stripped, runs of whitespace collapse to single spaces, and input longer
// than maxRunes is truncated rune-safe with a marker appended. Fallback
// invocations always receive the original, unsanitized input.
func Sanitize(input string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxPromptRunes
	}
	s := strings.ReplaceAll(input, "\x00", "")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxRunes {
		runes := []rune(s)
		s = string(runes[:maxRunes]) + truncationMarker
	}
	return s
}
