package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate cuts s to at most limit runes after dropping NUL bytes, which
// PostgreSQL text columns reject, and trimming surrounding space.
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
