package store

import (
	"context"
	"fmt"
	"time"

	"blastbot/internal/model"
)

// AppendSendLog inserts one audit record. Entries are never mutated after
// insert; they exist only for reporting.
func (s *Store) AppendSendLog(ctx context.Context, e *model.SendLogEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO send_logs (task_id, account_id, target_id, message_text, success, error_message, category, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.AccountID, e.TargetID, e.MessageText, e.Success, e.ErrorMessage, e.Category, e.SentAt,
	)
	if err != nil {
		return fmt.Errorf("append send log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append send log id: %w", err)
	}
	e.ID = id
	return nil
}

// SendLogsForTask returns the task's audit trail in chronological order.
func (s *Store) SendLogsForTask(ctx context.Context, taskID model.TaskID) ([]model.SendLogEntry, error) {
	var out []model.SendLogEntry
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM send_logs WHERE task_id = ? ORDER BY sent_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("send logs for task: %w", err)
	}
	return out, nil
}
