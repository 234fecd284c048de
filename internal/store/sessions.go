package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
)

// CreateSession starts an empty session.
func (s *DB) CreateSession(ctx context.Context, title string, tags []string) (domain.Session, error) {
	sess := domain.Session{
		ID:        ulid.Make().String(),
		CreatedAt: now(),
		Title:     title,
		Tags:      cleanTags(tags),
	}
	tagsJSON, err := json.Marshal(sess.Tags)
	if err != nil {
		return domain.Session{}, errkind.Store("create session", err)
	}
	err = s.tx(ctx, "create session", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, created_at, title, tags_json) VALUES (?, ?, ?, ?)`,
			sess.ID, millis(sess.CreatedAt), sess.Title, string(tagsJSON))
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.log.WithSession(sess.ID).Debug("session_created", logging.Fields{"title": title})
	return sess, nil
}

// AppendMessage appends one message to a session and returns it with
// its id, seq, and timestamp assigned.
func (s *DB) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (domain.Message, error) {
	out, err := s.AppendMessages(ctx, sessionID, msg)
	if err != nil {
		return domain.Message{}, err
	}
	return out[0], nil
}

// AppendMessages appends messages atomically, in order.
func (s *DB) AppendMessages(ctx context.Context, sessionID string, msgs ...domain.Message) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(msgs))
	err := s.tx(ctx, "append message", func(tx *sql.Tx) error {
		if err := sessionExists(ctx, tx, sessionID); err != nil {
			return err
		}
		for _, m := range msgs {
			written, err := insertMessage(ctx, tx, sessionID, m)
			if err != nil {
				return err
			}
			out = append(out, written)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bump()
	return out, nil
}

func sessionExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError("session", id)
	}
	return err
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, m domain.Message) (domain.Message, error) {
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&m.Seq); err != nil {
		return m, err
	}
	m.ID = uuid.NewString()
	m.SessionID = sessionID
	m.CreatedAt = now()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, seq, role, content, model_id, category, status, error,
			tokens_prompt, tokens_completion, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Seq, string(m.Role), m.Content, m.ModelID,
		nullString(string(m.Category)), nullString(string(m.Status)), nullString(m.Error),
		m.TokensPrompt, m.TokensCompletion, m.DurationMs, millis(m.CreatedAt))
	return m, err
}

// GetSession returns a session with its messages in seq order.
func (s *DB) GetSession(ctx context.Context, id string) (domain.Session, error) {
	if err := s.check(); err != nil {
		return domain.Session{}, err
	}
	var (
		sess     domain.Session
		created  int64
		tagsJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, title, tags_json FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &created, &sess.Title, &tagsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, NewNotFoundError("session", id)
	}
	if err != nil {
		return domain.Session{}, errkind.Store("get session", err)
	}
	sess.CreatedAt = fromMillis(created)
	sess.Tags = decodeTags(tagsJSON)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, model_id, category, status, error,
			tokens_prompt, tokens_completion, duration_ms, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return domain.Session{}, errkind.Store("get session", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return domain.Session{}, errkind.Store("get session", err)
		}
		sess.Messages = append(sess.Messages, m)
	}
	return sess, errkind.Store("get session", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var (
		m                        domain.Message
		role                     string
		category, status, errMsg sql.NullString
		created                  int64
	)
	err := row.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Content, &m.ModelID,
		&category, &status, &errMsg, &m.TokensPrompt, &m.TokensCompletion, &m.DurationMs, &created)
	if err != nil {
		return m, err
	}
	m.Role = domain.Role(role)
	m.Category = domain.Category(category.String)
	m.Status = domain.ResultStatus(status.String)
	m.Error = errMsg.String
	m.CreatedAt = fromMillis(created)
	return m, nil
}

// ListSessions returns session summaries, most recently active first.
func (s *DB) ListSessions(ctx context.Context, f SessionFilter) ([]domain.SessionSummary, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.Tag != "" {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(s.tags_json) WHERE json_each.value = ?)`)
		args = append(args, f.Tag)
	}
	if f.Title != "" {
		where = append(where, `s.title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.Title)+"%")
	}

	q := `SELECT s.id, s.title, s.tags_json, s.created_at, COUNT(m.id),
			COALESCE(MAX(m.created_at), s.created_at) AS last_activity
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " GROUP BY s.id"
	if !f.Since.IsZero() {
		q += " HAVING last_activity >= ?"
		args = append(args, millis(f.Since))
	}
	q += " ORDER BY last_activity DESC, s.id DESC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errkind.Store("list sessions", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var (
			sum           domain.SessionSummary
			tagsJSON      string
			created, last int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &tagsJSON, &created, &sum.MessageCount, &last); err != nil {
			return nil, errkind.Store("list sessions", err)
		}
		sum.Tags = decodeTags(tagsJSON)
		sum.CreatedAt = fromMillis(created)
		sum.LastActivity = fromMillis(last)
		out = append(out, sum)
	}
	return out, errkind.Store("list sessions", rows.Err())
}

// SearchMessages finds messages whose content contains query, newest first.
func (s *DB) SearchMessages(ctx context.Context, query string, limit int) ([]domain.SearchHit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, errkind.Newf(errkind.KindResolution, "search messages", "empty search query")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, s.title, m.id, m.seq, m.role, m.model_id, m.content, m.created_at
		FROM messages m JOIN sessions s ON s.id = m.session_id
		WHERE m.content LIKE ? ESCAPE '\'
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT ?`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, errkind.Store("search messages", err)
	}
	defer rows.Close()

	var out []domain.SearchHit
	for rows.Next() {
		var (
			h       domain.SearchHit
			role    string
			content string
			created int64
		)
		if err := rows.Scan(&h.SessionID, &h.SessionTitle, &h.MessageID, &h.Seq, &role, &h.ModelID, &content, &created); err != nil {
			return nil, errkind.Store("search messages", err)
		}
		h.Role = domain.Role(role)
		h.CreatedAt = fromMillis(created)
		h.Snippet = Snippet(content, query, 40)
		out = append(out, h)
	}
	return out, errkind.Store("search messages", rows.Err())
}

// DeleteSession removes a session and its messages.
func (s *DB) DeleteSession(ctx context.Context, id string) error {
	err := s.tx(ctx, "delete session", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return NewNotFoundError("session", id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.bump()
	s.log.WithSession(id).Info("session_deleted", nil)
	return nil
}

// UpdateSessionMeta changes a session's title and tags. A nil title or
// nil tags leaves that field unchanged. Messages are never touched.
func (s *DB) UpdateSessionMeta(ctx context.Context, id string, title *string, tags []string) error {
	return s.tx(ctx, "update session", func(tx *sql.Tx) error {
		if err := sessionExists(ctx, tx, id); err != nil {
			return err
		}
		if title != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, *title, id); err != nil {
				return err
			}
		}
		if tags != nil {
			data, err := json.Marshal(cleanTags(tags))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET tags_json = ? WHERE id = ?`, string(data), id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snippet returns up to radius runes either side of the first
// case-insensitive match of query in content.
func Snippet(content, query string, radius int) string {
	flat := strings.Join(strings.Fields(content), " ")
	idx := strings.Index(strings.ToLower(flat), strings.ToLower(query))
	if idx < 0 {
		return truncateRunes(flat, 2*radius)
	}
	start := idx
	for n := 0; n < radius && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(flat[:start])
		start -= size
	}
	end := idx + len(query)
	if end > len(flat) {
		end = len(flat)
	}
	for n := 0; n < radius && end < len(flat); n++ {
		_, size := utf8.DecodeRuneInString(flat[end:])
		end += size
	}
	out := flat[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(flat) {
		out += "…"
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func decodeTags(raw string) []string {
	tags := []string{}
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}
