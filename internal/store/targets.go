package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"blastbot/internal/model"
	logx "blastbot/pkg/logx"
)

// NormalizeIdentifier trims whitespace, strips one leading sigil and folds
// case so deduplication is case-insensitive. Numeric platform references
// pass through unchanged apart from trimming.
func NormalizeIdentifier(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "@")
	return strings.ToLower(id)
}

// ParseTargetList splits uploaded text into candidate identifiers, skipping
// blank lines and '#' comments.
func ParseTargetList(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// AddTargets normalizes and deduplicates rawIdentifiers, inserts the ones
// not already present for the task, and refreshes the task's total_targets
// to the new total. Returns the number of net-new rows.
func (s *Store) AddTargets(ctx context.Context, taskID model.TaskID, rawIdentifiers []string) (int, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(rawIdentifiers))
	var normalized []string
	for _, raw := range rawIdentifiers {
		id := NormalizeIdentifier(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		normalized = append(normalized, id)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add targets begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	added := 0
	for _, id := range normalized {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO targets (task_id, identifier, created_at) VALUES (?, ?, ?)`,
			taskID, id, now)
		if err != nil {
			return 0, fmt.Errorf("insert target: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert target rows: %w", err)
		}
		added += int(n)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET total_targets = (SELECT COUNT(*) FROM targets WHERE task_id = ?) WHERE id = ?`,
		taskID, taskID); err != nil {
		return 0, fmt.Errorf("refresh total targets: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add targets commit: %w", err)
	}

	s.log.Debug("targets added",
		logx.Int64("task", int64(taskID)),
		logx.Int("submitted", len(rawIdentifiers)),
		logx.Int("added", added))
	return added, nil
}

// PendingTargets returns unsent, still-valid targets in insertion order.
func (s *Store) PendingTargets(ctx context.Context, taskID model.TaskID) ([]model.Target, error) {
	var out []model.Target
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM targets WHERE task_id = ? AND is_sent = 0 AND is_valid = 1 ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("pending targets: %w", err)
	}
	return out, nil
}

// SentTargets returns targets delivered successfully, in send order.
func (s *Store) SentTargets(ctx context.Context, taskID model.TaskID) ([]model.Target, error) {
	var out []model.Target
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM targets WHERE task_id = ? AND is_sent = 1 ORDER BY sent_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("sent targets: %w", err)
	}
	return out, nil
}

// FailedTargets returns unsent targets that carry an error message, i.e.
// permanently invalid targets plus transient failures awaiting retry.
func (s *Store) FailedTargets(ctx context.Context, taskID model.TaskID) ([]model.Target, error) {
	var out []model.Target
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM targets WHERE task_id = ? AND is_sent = 0 AND error_message IS NOT NULL ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed targets: %w", err)
	}
	return out, nil
}

// MarkResolved stores the names learned from the first successful identity
// resolution.
func (s *Store) MarkResolved(ctx context.Context, id model.TargetID, firstName, lastName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE targets SET first_name = ?, last_name = ? WHERE id = ?`, firstName, lastName, id)
	if err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	return nil
}

// MarkSent records a terminal successful delivery; any stale transient
// error is cleared so is_sent=1 never coexists with an error message.
func (s *Store) MarkSent(ctx context.Context, id model.TargetID, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE targets SET is_sent = 1, sent_at = ?, error_message = NULL WHERE id = ?`, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkInvalid permanently excludes the target from future dispatch passes.
func (s *Store) MarkInvalid(ctx context.Context, id model.TargetID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE targets SET is_valid = 0, error_message = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("mark invalid: %w", err)
	}
	return nil
}

// MarkTransientFailure records the reason but leaves the target eligible
// for a future dispatch pass.
func (s *Store) MarkTransientFailure(ctx context.Context, id model.TargetID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE targets SET error_message = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("mark transient failure: %w", err)
	}
	return nil
}
