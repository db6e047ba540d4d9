package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"blastbot/internal/model"
	logx "blastbot/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTask(t *testing.T, s *Store) model.Task {
	t.Helper()
	task := model.Task{
		Name:            "launch wave",
		MessageTemplate: "hi {name}",
		MinInterval:     0,
		MaxInterval:     0,
		ThreadCount:     2,
	}
	if err := s.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestParseTargetList(t *testing.T) {
	t.Parallel()
	got := ParseTargetList("alice\n\n# a comment\n  bob  \n#tail\ncarol")
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("parsed %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAddTargetsDedup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	task := newTestTask(t, s)

	added, err := s.AddTargets(ctx, task.ID, []string{"@Alice", "alice", "  alice  "})
	if err != nil {
		t.Fatalf("add targets: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}

	pending, err := s.PendingTargets(ctx, task.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Identifier != "alice" {
		t.Fatalf("pending = %+v, want single normalized alice", pending)
	}

	// Re-submitting an existing identifier must not change the count.
	added, err = s.AddTargets(ctx, task.ID, []string{"@alice", "bob"})
	if err != nil {
		t.Fatalf("add targets again: %v", err)
	}
	if added != 1 {
		t.Fatalf("second add = %d, want 1 (only bob is new)", added)
	}
	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.TotalTargets != 2 {
		t.Fatalf("total_targets = %d, want 2", got.TotalTargets)
	}
}

func TestPendingTargetsOrderAndFiltering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	task := newTestTask(t, s)

	if _, err := s.AddTargets(ctx, task.ID, []string{"one", "two", "three"}); err != nil {
		t.Fatalf("add targets: %v", err)
	}
	pending, err := s.PendingTargets(ctx, task.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, want := range []string{"one", "two", "three"} {
		if pending[i].Identifier != want {
			t.Fatalf("pending[%d] = %q, want %q", i, pending[i].Identifier, want)
		}
	}

	if err := s.MarkSent(ctx, pending[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := s.MarkInvalid(ctx, pending[1].ID, "privacy restricted"); err != nil {
		t.Fatalf("mark invalid: %v", err)
	}
	if err := s.MarkTransientFailure(ctx, pending[2].ID, "connection reset"); err != nil {
		t.Fatalf("mark transient: %v", err)
	}

	// Sent and invalid drop out; the transient failure stays eligible.
	pending, err = s.PendingTargets(ctx, task.ID)
	if err != nil {
		t.Fatalf("pending after marks: %v", err)
	}
	if len(pending) != 1 || pending[0].Identifier != "three" {
		t.Fatalf("pending after marks = %+v, want only three", pending)
	}

	failed, err := s.FailedTargets(ctx, task.ID)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("failed = %d, want 2 (invalid + transient)", len(failed))
	}
}

func TestRecordSendAttemptGuardsQuota(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	a := model.Account{Label: "acct-1", CredentialRef: "ref-1", DailyQuota: 3}
	if err := s.CreateAccount(ctx, &a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := s.RecordSendAttempt(ctx, a.ID, true, now); err != nil {
			t.Fatalf("record attempt %d: %v", i, err)
		}
	}
	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.SentToday != 3 {
		t.Fatalf("sent_today = %d, must never exceed quota 3", got.SentToday)
	}
	if got.TotalSent != 5 {
		t.Fatalf("total_sent = %d, want 5", got.TotalSent)
	}
	if !got.QuotaExhausted() {
		t.Fatal("account should report exhausted quota")
	}
}

func TestQuotaRolloverOnNewDay(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	a := model.Account{Label: "acct-roll", CredentialRef: "ref-2", DailyQuota: 5}
	if err := s.CreateAccount(ctx, &a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i < 5; i++ {
		if err := s.RecordSendAttempt(ctx, a.ID, true, yesterday); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}

	// Same day: no reset.
	got, err := s.RolloverIfNewDay(ctx, a.ID, yesterday)
	if err != nil {
		t.Fatalf("rollover same day: %v", err)
	}
	if got.SentToday != 5 {
		t.Fatalf("same-day rollover changed counter: %d", got.SentToday)
	}

	// Next calendar day: counter resets, account usable again.
	got, err = s.RolloverIfNewDay(ctx, a.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if got.SentToday != 0 {
		t.Fatalf("sent_today after rollover = %d, want 0", got.SentToday)
	}
	if got.QuotaExhausted() {
		t.Fatal("account should be usable after rollover")
	}
	if got.TotalSent != 5 {
		t.Fatalf("total_sent must survive rollover, got %d", got.TotalSent)
	}
}

func TestResetStaleDailyCounters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	stale := model.Account{Label: "stale", CredentialRef: "r1"}
	fresh := model.Account{Label: "fresh", CredentialRef: "r2"}
	for _, a := range []*model.Account{&stale, &fresh} {
		if err := s.CreateAccount(ctx, a); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}

	now := time.Now().UTC()
	if err := s.RecordSendAttempt(ctx, stale.ID, true, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordSendAttempt(ctx, fresh.ID, true, now); err != nil {
		t.Fatalf("record: %v", err)
	}

	reset, err := s.ResetStaleDailyCounters(ctx, now)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d accounts, want 1", reset)
	}
	got, _ := s.GetAccount(ctx, stale.ID)
	if got.SentToday != 0 {
		t.Fatalf("stale sent_today = %d, want 0", got.SentToday)
	}
	got, _ = s.GetAccount(ctx, fresh.ID)
	if got.SentToday != 1 {
		t.Fatalf("fresh sent_today = %d, want untouched 1", got.SentToday)
	}
}

func TestMarkAccountLimitedExcludesFromActive(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	a := model.Account{Label: "limited-soon", CredentialRef: "r3"}
	if err := s.CreateAccount(ctx, &a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	active, err := s.ListActiveAccounts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}

	if err := s.MarkAccountLimited(ctx, a.ID); err != nil {
		t.Fatalf("mark limited: %v", err)
	}
	active, err = s.ListActiveAccounts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("limited account still listed active: %+v", active)
	}

	total, activeN, err := s.AccountCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if total != 1 || activeN != 0 {
		t.Fatalf("counts = (%d,%d), want (1,0)", total, activeN)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	task := newTestTask(t, s)

	if _, err := s.AddTargets(ctx, task.ID, []string{"x", "y"}); err != nil {
		t.Fatalf("add targets: %v", err)
	}
	pending, _ := s.PendingTargets(ctx, task.ID)
	entry := model.SendLogEntry{TaskID: task.ID, AccountID: 1, TargetID: pending[0].ID, Success: true}
	if err := s.AppendSendLog(ctx, &entry); err != nil {
		t.Fatalf("append log: %v", err)
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := s.GetTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("task should be gone, got err=%v", err)
	}
	logs, err := s.SendLogsForTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("send logs should cascade, got %d", len(logs))
	}
	pending, err = s.PendingTargets(ctx, task.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("targets should cascade, got %d", len(pending))
	}

	if err := s.DeleteTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete should be ErrNotFound, got %v", err)
	}
}

func TestCreateTaskValidatesPacing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	task := model.Task{Name: "bad", MessageTemplate: "x", MinInterval: 30, MaxInterval: 10}
	if err := s.CreateTask(context.Background(), &task); err == nil {
		t.Fatal("inverted pacing bounds should be rejected")
	}
}
