package mcptool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate_NoOpUnderLimit(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 8192))
}

func TestTruncate_CutsAtLimitWithSuffix(t *testing.T) {
	s := strings.Repeat("a", 100)
	got := Truncate(s, 20)
	assert.LessOrEqual(t, len(got), 20)
	assert.True(t, strings.HasSuffix(got, truncationSuffix))
}

func TestTruncate_RespectsUTF8Boundary(t *testing.T) {
	s := strings.Repeat("é", 50) // 2 bytes each
	got := Truncate(s, 21)
	assert.True(t, strings.HasSuffix(got, truncationSuffix))
	// whatever precedes the suffix must be valid UTF-8 (no split rune)
	prefix := strings.TrimSuffix(got, truncationSuffix)
	for _, r := range prefix {
		assert.NotEqual(t, '�', r)
	}
}

func TestTruncate_ZeroLimitIsNoOp(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 0))
}
