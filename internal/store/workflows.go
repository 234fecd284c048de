package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

// SaveWorkflowRun inserts or updates a run. A run without an id is
// assigned one. State changes must follow the run state machine.
func (s *DB) SaveWorkflowRun(ctx context.Context, run domain.WorkflowRun) (domain.WorkflowRun, error) {
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}
	if run.Vars == nil {
		run.Vars = map[string]string{}
	}
	run.UpdatedAt = now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = run.UpdatedAt
	}
	vars, err := json.Marshal(run.Vars)
	if err != nil {
		return domain.WorkflowRun{}, errkind.Store("save workflow run", err)
	}

	err = s.tx(ctx, "save workflow run", func(tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx, `SELECT status FROM workflow_runs WHERE id = ?`, run.ID).Scan(&cur)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case domain.RunState(cur) != run.State:
			if err := domain.RunState(cur).Transition(run.State); err != nil {
				return errkind.Store("save workflow run", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_runs (id, workflow, session_id, status, next_step, vars_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				next_step = excluded.next_step,
				vars_json = excluded.vars_json,
				updated_at = excluded.updated_at`,
			run.ID, run.Workflow, run.SessionID, string(run.State), run.NextStep, string(vars),
			millis(run.CreatedAt), millis(run.UpdatedAt))
		return err
	})
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	return run, nil
}

const runColumns = `SELECT id, workflow, session_id, status, next_step, vars_json, created_at, updated_at FROM workflow_runs`

// GetWorkflowRun loads a run by id.
func (s *DB) GetWorkflowRun(ctx context.Context, id string) (domain.WorkflowRun, error) {
	if err := s.check(); err != nil {
		return domain.WorkflowRun{}, err
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkflowRun{}, NewNotFoundError("workflow run", id)
	}
	return run, errkind.Store("get workflow run", err)
}

// ListWorkflowRuns returns runs newest first.
func (s *DB) ListWorkflowRuns(ctx context.Context, limit int) ([]domain.WorkflowRun, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	q := runColumns + ` ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errkind.Store("list workflow runs", err)
	}
	defer rows.Close()

	var out []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errkind.Store("list workflow runs", err)
		}
		out = append(out, run)
	}
	return out, errkind.Store("list workflow runs", rows.Err())
}

func scanRun(row scanner) (domain.WorkflowRun, error) {
	var (
		run              domain.WorkflowRun
		state, vars      string
		created, updated int64
	)
	if err := row.Scan(&run.ID, &run.Workflow, &run.SessionID, &state, &run.NextStep, &vars, &created, &updated); err != nil {
		return run, err
	}
	run.State = domain.RunState(state)
	run.CreatedAt = fromMillis(created)
	run.UpdatedAt = fromMillis(updated)
	run.Vars = map[string]string{}
	if err := json.Unmarshal([]byte(vars), &run.Vars); err != nil {
		return run, err
	}
	return run, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
