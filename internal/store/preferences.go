package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

// SetPreference records a category to model association.
func (s *DB) SetPreference(ctx context.Context, p domain.Preference) error {
	return s.tx(ctx, "set preference", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (category, model_id, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(category) DO UPDATE SET model_id = excluded.model_id, updated_at = excluded.updated_at`,
			string(p.Category), p.ModelID, millis(now()))
		return err
	})
}

// GetPreference returns the remembered model for a category.
func (s *DB) GetPreference(ctx context.Context, c domain.Category) (domain.Preference, bool, error) {
	if err := s.check(); err != nil {
		return domain.Preference{}, false, err
	}
	p := domain.Preference{Category: c}
	err := s.db.QueryRowContext(ctx, `SELECT model_id FROM preferences WHERE category = ?`, string(c)).Scan(&p.ModelID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Preference{}, false, nil
	}
	if err != nil {
		return domain.Preference{}, false, errkind.Store("get preference", err)
	}
	return p, true, nil
}

// Preferences lists every remembered association ordered by category.
func (s *DB) Preferences(ctx context.Context) ([]domain.Preference, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT category, model_id FROM preferences ORDER BY category`)
	if err != nil {
		return nil, errkind.Store("list preferences", err)
	}
	defer rows.Close()
	var out []domain.Preference
	for rows.Next() {
		var (
			p   domain.Preference
			cat string
		)
		if err := rows.Scan(&cat, &p.ModelID); err != nil {
			return nil, errkind.Store("list preferences", err)
		}
		p.Category = domain.Category(cat)
		out = append(out, p)
	}
	return out, errkind.Store("list preferences", rows.Err())
}
