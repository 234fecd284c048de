package store

import (
	"context"
	"time"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

// AggregateForAnalytics returns every assistant message created at or
// after since (all of them when since is zero), oldest first.
func (s *DB) AggregateForAnalytics(ctx context.Context, since time.Time) ([]MessageFact, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var from int64
	if !since.IsZero() {
		from = millis(since)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_id, COALESCE(category, ''), COALESCE(status, ''), duration_ms,
			tokens_prompt, tokens_completion, created_at
		FROM messages
		WHERE role = ? AND created_at >= ?
		ORDER BY created_at, id`, string(domain.RoleAssistant), from)
	if err != nil {
		return nil, errkind.Store("aggregate analytics", err)
	}
	defer rows.Close()

	var out []MessageFact
	for rows.Next() {
		var (
			f       MessageFact
			created int64
		)
		if err := rows.Scan(&f.ModelID, &f.Category, &f.Status, &f.DurationMs,
			&f.TokensPrompt, &f.TokensCompletion, &created); err != nil {
			return nil, errkind.Store("aggregate analytics", err)
		}
		f.CreatedAt = fromMillis(created)
		out = append(out, f)
	}
	return out, errkind.Store("aggregate analytics", rows.Err())
}
