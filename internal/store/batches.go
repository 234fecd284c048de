package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
)

// CreateBatch persists a job in DRAFT with one pending item per prompt.
// The prompt list is frozen from here on.
func (s *DB) CreateBatch(ctx context.Context, job domain.BatchJob) (domain.BatchJob, error) {
	job.ID = ulid.Make().String()
	job.CreatedAt = now()
	job.State = domain.StateDraft
	job.CheckpointOffset = 0
	for i := range job.Items {
		job.Items[i].ID = uuid.NewString()
		job.Items[i].BatchID = job.ID
		job.Items[i].Seq = i
		job.Items[i].Status = domain.ItemPending
		job.Items[i].ResultMessageID = ""
		job.Items[i].Error = ""
	}

	err := s.tx(ctx, "create batch", func(tx *sql.Tx) error {
		if job.SessionID != "" {
			if err := sessionExists(ctx, tx, job.SessionID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_jobs (id, model_id, created_at, status, checkpoint_offset, session_id, stop_on_error, source, template)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			job.ID, job.ModelID, millis(job.CreatedAt), string(job.State),
			nullString(job.SessionID), job.StopOnError, nullString(job.Source), nullString(job.Template))
		if err != nil {
			return err
		}
		for _, it := range job.Items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO batch_items (id, batch_id, seq, prompt, status) VALUES (?, ?, ?, ?, ?)`,
				it.ID, it.BatchID, it.Seq, it.Prompt, string(it.Status)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.BatchJob{}, err
	}
	s.log.Info("batch_created", logging.Fields{"batch_id": job.ID, "model": job.ModelID, "items": len(job.Items)})
	return job, nil
}

// GetBatch returns a job with its items in seq order.
func (s *DB) GetBatch(ctx context.Context, id string) (domain.BatchJob, error) {
	if err := s.check(); err != nil {
		return domain.BatchJob{}, err
	}
	job, err := scanBatch(s.db.QueryRowContext(ctx, batchColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BatchJob{}, NewNotFoundError("batch", id)
	}
	if err != nil {
		return domain.BatchJob{}, errkind.Store("get batch", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, seq, prompt, status, result_message_id, error
		FROM batch_items WHERE batch_id = ? ORDER BY seq`, id)
	if err != nil {
		return domain.BatchJob{}, errkind.Store("get batch", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it          domain.BatchItem
			status      string
			msgID, eMsg sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.BatchID, &it.Seq, &it.Prompt, &status, &msgID, &eMsg); err != nil {
			return domain.BatchJob{}, errkind.Store("get batch", err)
		}
		it.Status = domain.ItemStatus(status)
		it.ResultMessageID = msgID.String
		it.Error = eMsg.String
		job.Items = append(job.Items, it)
	}
	return job, errkind.Store("get batch", rows.Err())
}

// ListBatches returns jobs newest first, without items.
func (s *DB) ListBatches(ctx context.Context, limit int) ([]domain.BatchJob, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	q := batchColumns + ` ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errkind.Store("list batches", err)
	}
	defer rows.Close()

	var out []domain.BatchJob
	for rows.Next() {
		job, err := scanBatch(rows)
		if err != nil {
			return nil, errkind.Store("list batches", err)
		}
		out = append(out, job)
	}
	return out, errkind.Store("list batches", rows.Err())
}

// BatchCounts tallies item statuses for a job.
func (s *DB) BatchCounts(ctx context.Context, id string) (pending, done, failed int, err error) {
	if err := s.check(); err != nil {
		return 0, 0, 0, err
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(status = 'done'), 0),
			COALESCE(SUM(status = 'failed'), 0)
		FROM batch_items WHERE batch_id = ?`, id).Scan(&pending, &done, &failed)
	return pending, done, failed, errkind.Store("count batch items", err)
}

const batchColumns = `SELECT id, model_id, created_at, status, checkpoint_offset, session_id, stop_on_error, source, template FROM batch_jobs`

func scanBatch(row scanner) (domain.BatchJob, error) {
	var (
		job                     domain.BatchJob
		created                 int64
		state                   string
		sessionID, source, tmpl sql.NullString
		stopOnError             sql.NullBool
	)
	err := row.Scan(&job.ID, &job.ModelID, &created, &state, &job.CheckpointOffset,
		&sessionID, &stopOnError, &source, &tmpl)
	if err != nil {
		return job, err
	}
	job.CreatedAt = fromMillis(created)
	job.State = domain.RunState(state)
	job.SessionID = sessionID.String
	job.StopOnError = stopOnError.Bool
	job.Source = source.String
	job.Template = tmpl.String
	return job, nil
}

// SetBatchState moves a job to next. Setting the current state again is
// a no-op; any other move must be a valid transition.
func (s *DB) SetBatchState(ctx context.Context, id string, next domain.RunState) error {
	return s.tx(ctx, "set batch state", func(tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx, `SELECT status FROM batch_jobs WHERE id = ?`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("batch", id)
		}
		if err != nil {
			return err
		}
		if domain.RunState(cur) == next {
			return nil
		}
		if err := domain.RunState(cur).Transition(next); err != nil {
			return errkind.Store("set batch state", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE batch_jobs SET status = ? WHERE id = ?`, string(next), id)
		return err
	})
}

// RecordBatchProgress resolves item seq of a batch in one transaction:
// the result message is appended to the batch session, the item is
// marked done or failed and linked to it, and the checkpoint advances
// past the item. An item that is already resolved is left unchanged and
// its existing message id is returned.
func (s *DB) RecordBatchProgress(ctx context.Context, batchID string, seq int, msg domain.Message) (domain.Message, error) {
	var written domain.Message
	appended := false
	err := s.tx(ctx, "record batch progress", func(tx *sql.Tx) error {
		var (
			sessionID sql.NullString
			state     string
		)
		err := tx.QueryRowContext(ctx, `SELECT session_id, status FROM batch_jobs WHERE id = ?`, batchID).Scan(&sessionID, &state)
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("batch", batchID)
		}
		if err != nil {
			return err
		}
		if domain.RunState(state).Terminal() {
			return errkind.Newf(errkind.KindStore, "record batch progress", "batch %s is %s", batchID, state)
		}
		if !sessionID.Valid {
			return errkind.Newf(errkind.KindStore, "record batch progress", "batch %s has no session", batchID)
		}

		var (
			itemID, status string
			existing       sql.NullString
		)
		err = tx.QueryRowContext(ctx,
			`SELECT id, status, result_message_id FROM batch_items WHERE batch_id = ? AND seq = ?`,
			batchID, seq).Scan(&itemID, &status, &existing)
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("batch item", batchID+"#"+itoa(seq))
		}
		if err != nil {
			return err
		}
		if domain.ItemStatus(status) != domain.ItemPending {
			written = domain.Message{ID: existing.String, SessionID: sessionID.String}
			return nil
		}

		written, err = insertMessage(ctx, tx, sessionID.String, msg)
		if err != nil {
			return err
		}
		appended = true

		itemStatus := domain.ItemDone
		if msg.Status != domain.StatusOK {
			itemStatus = domain.ItemFailed
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE batch_items SET status = ?, result_message_id = ?, error = ? WHERE id = ?`,
			string(itemStatus), written.ID, nullString(msg.Error), itemID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE batch_jobs SET checkpoint_offset = MAX(checkpoint_offset, ?) WHERE id = ?`,
			seq+1, batchID)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	if appended {
		s.bump()
	}
	return written, nil
}
