package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("  abc  ", 10))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "héé", Truncate("hééllo", 3))
	assert.Len(t, Truncate(strings.Repeat("x", 300), 255), 255)
}

func TestTruncate_DropsNUL(t *testing.T) {
	assert.Equal(t, "https://example.com/a", Truncate("https://example.com/\x00a", 100))
	assert.Equal(t, "ab", Truncate("\x00a\x00b\x00", 2))
	assert.Equal(t, "", Truncate("\x00 \x00", 10))
}
