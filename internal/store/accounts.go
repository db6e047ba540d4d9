package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blastbot/internal/model"
	logx "blastbot/pkg/logx"
)

// CreateAccount inserts a sending identity. The credential import pipeline
// is the normal caller; tests and the seeding CLI use it directly.
func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.DailyQuota <= 0 {
		a.DailyQuota = 50
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (label, credential_ref, status, daily_quota, sent_today, total_sent, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Label, a.CredentialRef, a.Status.String(), a.DailyQuota, a.SentToday, a.TotalSent, a.LastUsedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create account id: %w", err)
	}
	a.ID = model.AccountID(id)
	return nil
}

// GetAccount returns one account by id.
func (s *Store) GetAccount(ctx context.Context, id model.AccountID) (model.Account, error) {
	var a model.Account
	err := s.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListActiveAccounts returns all accounts with status=active in stable id
// order. Quota is deliberately not filtered here: an exhausted but active
// account is skipped per-send, since it may free up the next calendar day.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]model.Account, error) {
	var out []model.Account
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM accounts WHERE status = ? ORDER BY id`, model.AccountActive.String())
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	return out, nil
}

// AccountCounts reports how many accounts exist at all and how many are
// active, used to distinguish "no accounts configured" from "none active".
func (s *Store) AccountCounts(ctx context.Context) (total, active int, err error) {
	if err = s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM accounts`); err != nil {
		return 0, 0, fmt.Errorf("count accounts: %w", err)
	}
	err = s.db.GetContext(ctx, &active,
		`SELECT COUNT(*) FROM accounts WHERE status = ?`, model.AccountActive.String())
	if err != nil {
		return 0, 0, fmt.Errorf("count active accounts: %w", err)
	}
	return total, active, nil
}

// RolloverIfNewDay resets sent_today when the account was last used on an
// earlier calendar day, and returns the refreshed row. Callers serialize
// per account, so the read-check-write here is not racy.
func (s *Store) RolloverIfNewDay(ctx context.Context, id model.AccountID, now time.Time) (model.Account, error) {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return model.Account{}, err
	}
	if a.LastUsedAt == nil || sameCalendarDay(*a.LastUsedAt, now) {
		return a, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE accounts SET sent_today = 0 WHERE id = ?`, id)
	if err != nil {
		return model.Account{}, fmt.Errorf("quota rollover: %w", err)
	}
	s.log.Debug("daily quota rolled over", logx.Int64("account", int64(id)))
	a.SentToday = 0
	return a, nil
}

// RecordSendAttempt updates quota counters after one delivery attempt. On
// success the sent_today increment is guarded by the quota so the counter
// can never exceed daily_quota even under misuse.
func (s *Store) RecordSendAttempt(ctx context.Context, id model.AccountID, success bool, now time.Time) error {
	var err error
	if success {
		_, err = s.db.ExecContext(ctx,
			`UPDATE accounts
			 SET sent_today = CASE WHEN sent_today < daily_quota THEN sent_today + 1 ELSE sent_today END,
			     total_sent = total_sent + 1,
			     last_used_at = ?
			 WHERE id = ?`, now, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE accounts SET last_used_at = ? WHERE id = ?`, now, id)
	}
	if err != nil {
		return fmt.Errorf("record send attempt: %w", err)
	}
	return nil
}

// MarkAccountLimited suspends an account after a platform rate-limit
// signal. The status never heals automatically.
func (s *Store) MarkAccountLimited(ctx context.Context, id model.AccountID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE id = ?`, model.AccountLimited.String(), id)
	if err != nil {
		return fmt.Errorf("mark account limited: %w", err)
	}
	return nil
}

// SetAccountStatus is the operator/health-check entry point for restoring
// or retiring an account.
func (s *Store) SetAccountStatus(ctx context.Context, id model.AccountID, status model.AccountStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE id = ?`, status.String(), id)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	return nil
}

// ResetStaleDailyCounters zeroes sent_today for every account last used
// before today. Run by the midnight sweep; the per-touch rollover in
// RolloverIfNewDay stays authoritative for accounts picked up mid-run.
func (s *Store) ResetStaleDailyCounters(ctx context.Context, now time.Time) (int, error) {
	var accounts []model.Account
	if err := s.db.SelectContext(ctx, &accounts,
		`SELECT * FROM accounts WHERE sent_today > 0 AND last_used_at IS NOT NULL`); err != nil {
		return 0, fmt.Errorf("scan counters: %w", err)
	}
	reset := 0
	for _, a := range accounts {
		if a.LastUsedAt == nil || sameCalendarDay(*a.LastUsedAt, now) {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE accounts SET sent_today = 0 WHERE id = ?`, a.ID); err != nil {
			return reset, fmt.Errorf("reset counter: %w", err)
		}
		reset++
	}
	return reset, nil
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
