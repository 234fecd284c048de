package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordWrap(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		width    int
		expected string
	}{
		{"short line no wrap", "hello world", 80, "hello world"},
		{"wrap at width", "hello world test", 10, "hello\nworld test"},
		{"preserves newlines", "line1\nline2", 80, "line1\nline2"},
		{"empty string", "", 80, ""},
		{"width zero returns input", "test", 0, "test"},
		{"long word exceeds width", "superlongword short", 5, "superlongword\nshort"},
		{"long word last", "ab superlongword", 5, "ab\nsuperlongword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, WordWrap(tt.input, tt.width))
		})
	}
}

func TestVisibleLength(t *testing.T) {
	assert.Equal(t, 5, VisibleLength("hello"))
	assert.Equal(t, 3, VisibleLength("\x1b[31mred\x1b[0m"))
	assert.Equal(t, 0, VisibleLength(""))
	assert.Equal(t, 0, VisibleLength("\x1b[31m\x1b[0m"))
	assert.Equal(t, 5, VisibleLength("straß"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello...", Truncate("hello world", 8))
	assert.Equal(t, "h...", Truncate("hello", 2))
	assert.Equal(t, "über...", Truncate("überstraße", 7), "cuts on runes")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", OneLine("  a\n\tb \r\n c "))
	assert.Equal(t, "first line...", Preview("first line\nsecond line", 13))
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n\n  b", Indent("a\n\nb", "  "))
}
