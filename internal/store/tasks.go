package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task is a cron-driven action owned by a user.
//
// NextRun is the zero time when the task has no upcoming run, which is the
// case after its cron expression stopped parsing.
type Task struct {
	ID         int64          `json:"id"`
	UserID     int64          `json:"user_id"`
	Name       string         `json:"name"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload"`
	CronExpr   string         `json:"cron_expr"`
	NextRun    time.Time      `json:"next_run,omitempty"`
	Enabled    bool           `json:"enabled"`
	LastRun    time.Time      `json:"last_run,omitempty"`
	LastResult string         `json:"last_result"`
}

const taskColumns = `id, user_id, name, action_type, payload, cron_expr,
	next_run_ts, enabled, last_run_ts, last_result`

// AddTask inserts an enabled task and returns its id.
func (s *Store) AddTask(ctx context.Context, t *Task) (int64, error) {
	if strings.TrimSpace(t.Name) == "" || t.ActionType == "" || t.CronExpr == "" {
		return 0, fmt.Errorf("%w: name, action type and cron expression are required", ErrInvalidTask)
	}

	payload := t.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshalling payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks
			(user_id, name, action_type, payload, cron_expr, next_run_ts, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		t.UserID, t.Name, t.ActionType, string(payloadJSON), t.CronExpr, toUnix(t.NextRun),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading task id: %w", err)
	}
	t.ID = id
	t.Enabled = true
	return id, nil
}

// ListTasks returns a user's tasks ordered by id.
func (s *Store) ListTasks(ctx context.Context, userID int64) ([]Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE user_id = ? ORDER BY id`, userID)
}

// GetTask returns a task by id or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return t, nil
}

// ToggleTask flips a task's enabled flag and returns the new value.
// The task must belong to userID.
func (s *Store) ToggleTask(ctx context.Context, id, userID int64) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		UPDATE scheduled_tasks SET enabled = 1 - enabled
		WHERE id = ? AND user_id = ?
		RETURNING enabled`,
		id, userID,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggling task: %w", err)
	}
	return enabled != 0, nil
}

// DisableTask clears a task's enabled flag regardless of its current value.
func (s *Store) DisableTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("disabling task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task owned by userID and reports whether a row was deleted.
func (s *Store) DeleteTask(ctx context.Context, id, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("deleting task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// DueTasks returns enabled tasks whose next run is at or before now,
// earliest first. Tasks without a next run are never due.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE enabled = 1 AND next_run_ts > 0 AND next_run_ts <= ?
		ORDER BY next_run_ts, id`,
		toUnix(now),
	)
}

// RecordRun stores the outcome of an execution attempt together with the
// recomputed next run.
func (s *Store) RecordRun(ctx context.Context, id int64, ranAt, nextRun time.Time, result string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET last_run_ts = ?, next_run_ts = ?, last_result = ?
		WHERE id = ?`,
		toUnix(ranAt), toUnix(nextRun), result, id,
	)
	if err != nil {
		return fmt.Errorf("recording task run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrNotFound
	}
	return nil
}

// queryTasks returns the matching tasks. A task whose payload cannot be
// decoded is logged and left out so it cannot block the others.
func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if errors.Is(err, ErrCorruptPayload) {
			s.logger.Warn("skipping task with unreadable payload", "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row scanner) (*Task, error) {
	var (
		t                Task
		payload          string
		nextRun, lastRun float64
		enabled          int
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.ActionType, &payload, &t.CronExpr,
		&nextRun, &enabled, &lastRun, &t.LastResult); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return nil, fmt.Errorf("%w: task %d: %w", ErrCorruptPayload, t.ID, err)
	}
	if t.Payload == nil {
		t.Payload = map[string]any{}
	}
	t.NextRun = fromUnix(nextRun)
	t.LastRun = fromUnix(lastRun)
	t.Enabled = enabled != 0
	return &t, nil
}
