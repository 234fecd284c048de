// Package store persists sessions, batch jobs, workflow runs, and
// preferences in a single-writer SQLite database.
package store

import "time"

// SessionFilter defines query parameters for listing sessions.
type SessionFilter struct {
	Limit  int       // Maximum results (0 = no limit)
	Offset int       // Skip first N results
	Tag    string    // Only sessions carrying this tag
	Title  string    // Case-insensitive title substring
	Since  time.Time // Only sessions active at or after this instant
}

// DefaultSessionFilter returns a filter with sensible defaults.
func DefaultSessionFilter() SessionFilter {
	return SessionFilter{Limit: 50}
}

// WithLimit returns a copy of the filter with a new limit.
func (f SessionFilter) WithLimit(n int) SessionFilter {
	f.Limit = n
	return f
}

// WithOffset returns a copy of the filter with a new offset.
func (f SessionFilter) WithOffset(n int) SessionFilter {
	f.Offset = n
	return f
}

// WithTag returns a copy of the filter restricted to a tag.
func (f SessionFilter) WithTag(tag string) SessionFilter {
	f.Tag = tag
	return f
}

// WithTitle returns a copy of the filter matching a title substring.
func (f SessionFilter) WithTitle(s string) SessionFilter {
	f.Title = s
	return f
}

// WithSince returns a copy of the filter bounded by last activity.
func (f SessionFilter) WithSince(t time.Time) SessionFilter {
	f.Since = t
	return f
}

// ExportFormat selects the session export rendering.
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
	FormatText     ExportFormat = "text"
)

// ParseExportFormat accepts json, markdown (or md), and text (or txt).
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch s {
	case "json", "":
		return FormatJSON, true
	case "markdown", "md":
		return FormatMarkdown, true
	case "text", "txt":
		return FormatText, true
	}
	return "", false
}

// Ext is the file extension for exports in f.
func (f ExportFormat) Ext() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatText:
		return ".txt"
	}
	return ".json"
}

// MessageFact is one assistant message as seen by analytics.
type MessageFact struct {
	ModelID          string
	Category         string
	Status           string
	DurationMs       int64
	TokensPrompt     int
	TokensCompletion int
	CreatedAt        time.Time
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// now is truncated to the stored precision so values round-trip.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
