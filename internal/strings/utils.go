// Package strings provides text helpers for terminal output.
package strings

import (
	"strings"
	"unicode"
)

// Truncate shortens s to n runes, ending with "..." when cut.
// If n < 4, uses n = 4 to leave room for the ellipsis.
func Truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// OneLine collapses every whitespace run (newlines included) into a
// single space, for list previews.
func OneLine(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Preview is OneLine followed by Truncate.
func Preview(s string, n int) string {
	return Truncate(OneLine(s), n)
}

// Indent prefixes every non-empty line of s.
func Indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

// WordWrap wraps text to a maximum width, breaking on word boundaries.
// Preserves existing newlines and handles ANSI escape codes.
func WordWrap(s string, width int) string {
	if width <= 0 {
		return s
	}

	var result strings.Builder
	lines := strings.Split(s, "\n")

	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}
		if line == "" {
			continue
		}
		if VisibleLength(line) <= width {
			result.WriteString(line)
			continue
		}
		result.WriteString(wrapLine(line, width))
	}

	return result.String()
}

// wrapLine wraps a single line to width. A word longer than width gets
// a line of its own.
func wrapLine(line string, width int) string {
	var result strings.Builder
	currentLen := 0
	lineStart := true

	for _, word := range strings.Fields(line) {
		wordLen := VisibleLength(word)

		if wordLen > width {
			if !lineStart {
				result.WriteString("\n")
			}
			result.WriteString(word)
			result.WriteString("\n")
			currentLen = 0
			lineStart = true
			continue
		}

		spaceNeeded := wordLen
		if !lineStart {
			spaceNeeded++
		}

		if currentLen+spaceNeeded > width {
			result.WriteString("\n")
			result.WriteString(word)
			currentLen = wordLen
			lineStart = false
			continue
		}
		if !lineStart {
			result.WriteString(" ")
			currentLen++
		}
		result.WriteString(word)
		currentLen += wordLen
		lineStart = false
	}

	return strings.TrimSuffix(result.String(), "\n")
}

// VisibleLength counts runes, excluding ANSI escape sequences.
func VisibleLength(s string) int {
	inEscape := false
	count := 0
	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		count++
	}
	return count
}
