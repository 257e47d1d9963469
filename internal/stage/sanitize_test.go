package stage

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"collapses whitespace runs", "a  b\t\tc\n\nd", "a b c d"},
		{"strips null bytes", "a\x00b\x00c", "abc"},
		{"trims edges", "  hello world  ", "hello world"},
		{"plain text unchanged", "Alice will ship the report.", "Alice will ship the report."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input, 0))
		})
	}
}

func TestSanitize_Truncation(t *testing.T) {
	long := strings.Repeat("x", 50)
	got := Sanitize(long, 10)
	assert.Equal(t, "xxxxxxxxxx"+truncationMarker, got)

	// Rune-safe: multi-byte characters are never split.
	multibyte := strings.Repeat("日", 20)
	got = Sanitize(multibyte, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("日", 10)+truncationMarker, got)

	// At or under the cap, no marker.
	assert.Equal(t, "xxxxxxxxxx", Sanitize(strings.Repeat("x", 10), 10))
}
