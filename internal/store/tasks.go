package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blastbot/internal/model"
)

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	if t.MinInterval < 0 || t.MaxInterval < t.MinInterval {
		return fmt.Errorf("invalid pacing bounds: min=%d max=%d", t.MinInterval, t.MaxInterval)
	}
	if t.ThreadCount < 1 {
		t.ThreadCount = 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (name, status, message_template, parse_mode,
		                    variant_kind, media_kind, media_ref, proxy_code, source_ref,
		                    min_interval, max_interval, thread_count, pin_message, delete_dialog,
		                    total_targets, sent_count, failed_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?)`,
		t.Name, t.Status.String(), t.MessageTemplate, t.ParseMode,
		t.SendVariant.Kind.String(), t.SendVariant.MediaKind.String(), t.SendVariant.MediaRef,
		t.SendVariant.ProxyCode, t.SendVariant.SourceRef,
		t.MinInterval, t.MaxInterval, t.ThreadCount, t.PinMessage, t.DeleteDialog, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create task id: %w", err)
	}
	t.ID = model.TaskID(id)
	return nil
}

// GetTask returns one task by id.
func (s *Store) GetTask(ctx context.Context, id model.TaskID) (model.Task, error) {
	var t model.Task
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns every task, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]model.Task, error) {
	var out []model.Task
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM tasks ORDER BY id DESC`); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// MarkTaskRunning transitions a task to running and stamps started_at.
func (s *Store) MarkTaskRunning(ctx context.Context, id model.TaskID, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_at = ? WHERE id = ?`,
		model.TaskRunning.String(), now, id)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return nil
}

// FinishTask records a terminal or paused state. completed_at is stamped
// only for completed tasks.
func (s *Store) FinishTask(ctx context.Context, id model.TaskID, status model.TaskStatus, now time.Time) error {
	var err error
	if status == model.TaskCompleted {
		_, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`, status.String(), now, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ? WHERE id = ?`, status.String(), id)
	}
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}

// AddTaskProgress applies atomic counter increments; workers on different
// batches call this concurrently.
func (s *Store) AddTaskProgress(ctx context.Context, id model.TaskID, sentDelta, failedDelta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET sent_count = sent_count + ?, failed_count = failed_count + ? WHERE id = ?`,
		sentDelta, failedDelta, id)
	if err != nil {
		return fmt.Errorf("add task progress: %w", err)
	}
	return nil
}

// DeleteTask removes the task and cascades to its targets and log entries.
// The engine rejects deletion of running tasks before calling this.
func (s *Store) DeleteTask(ctx context.Context, id model.TaskID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete task begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM send_logs WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete task logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete task targets: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
