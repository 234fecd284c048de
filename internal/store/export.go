package store

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

// ExportVersion is the version stamped into JSON exports.
const ExportVersion = 1

type exportEnvelope struct {
	Version int            `json:"export_version"`
	Session domain.Session `json:"session"`
}

// ExportSession renders a session in the requested format.
func (s *DB) ExportSession(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return RenderExport(sess, format)
}

// RenderExport renders an already loaded session.
func RenderExport(sess domain.Session, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(exportEnvelope{Version: ExportVersion, Session: sess}, "", "  ")
		if err != nil {
			return nil, errkind.Store("export session", err)
		}
		return append(data, '\n'), nil
	case FormatMarkdown:
		return renderMarkdown(sess), nil
	case FormatText:
		return renderText(sess), nil
	}
	return nil, errkind.Newf(errkind.KindResolution, "export session", "unknown export format %q", format)
}

// ParseExport reads a JSON export back into a session.
func ParseExport(data []byte) (domain.Session, error) {
	var env exportEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return domain.Session{}, errkind.Store("parse export", err)
	}
	if env.Version != ExportVersion {
		return domain.Session{}, errkind.Newf(errkind.KindStore, "parse export", "unsupported export version %d", env.Version)
	}
	if env.Session.ID == "" {
		return domain.Session{}, errkind.Newf(errkind.KindStore, "parse export", "export has no session id")
	}
	if env.Session.Tags == nil {
		env.Session.Tags = []string{}
	}
	return env.Session, nil
}

func renderMarkdown(sess domain.Session) []byte {
	var b strings.Builder
	title := sess.Title
	if title == "" {
		title = "Session " + sess.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- id: `%s`\n", sess.ID)
	fmt.Fprintf(&b, "- created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	if len(sess.Tags) > 0 {
		fmt.Fprintf(&b, "- tags: %s\n", strings.Join(sess.Tags, ", "))
	}

	for _, m := range sess.Messages {
		fmt.Fprintf(&b, "\n## %d. %s", m.Seq, m.Role)
		if m.ModelID != "" {
			fmt.Fprintf(&b, " · %s", m.ModelID)
		}
		if m.Role == domain.RoleAssistant {
			fmt.Fprintf(&b, " · %d+%d tokens · %dms", m.TokensPrompt, m.TokensCompletion, m.DurationMs)
			if m.Status != "" && m.Status != domain.StatusOK {
				fmt.Fprintf(&b, " · %s", m.Status)
			}
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(m.Content, "\n"))
		b.WriteString("\n")
		if m.Error != "" {
			fmt.Fprintf(&b, "\n> error: %s\n", m.Error)
		}
	}
	return []byte(b.String())
}

func renderText(sess domain.Session) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s %q\n", sess.ID, sess.Title)
	for _, m := range sess.Messages {
		who := string(m.Role)
		if m.ModelID != "" {
			who += " (" + m.ModelID + ")"
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", m.Seq, who, m.Content)
		if m.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", m.Error)
		}
	}
	return []byte(b.String())
}
