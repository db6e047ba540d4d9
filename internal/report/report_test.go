package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"blastbot/internal/model"
	"blastbot/internal/store"
	logx "blastbot/pkg/logx"
)

func seedRun(t *testing.T) (*Generator, *store.Store, model.Task, model.Account) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "report.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	acct := model.Account{Label: "sender-1", CredentialRef: "ref"}
	if err := st.CreateAccount(ctx, &acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	task := model.Task{Name: "spring push", MessageTemplate: "hi {name}", ThreadCount: 1}
	if err := st.CreateTask(ctx, &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := st.AddTargets(ctx, task.ID, []string{"alice", "bob", "carol"}); err != nil {
		t.Fatalf("add targets: %v", err)
	}

	targets, _ := st.PendingTargets(ctx, task.ID)
	now := time.Now().UTC()

	// alice delivered, bob blocked, carol rate-limited.
	if err := st.MarkSent(ctx, targets[0].ID, now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := st.MarkInvalid(ctx, targets[1].ID, "bot was blocked by the user"); err != nil {
		t.Fatalf("mark invalid: %v", err)
	}
	if err := st.MarkTransientFailure(ctx, targets[2].ID, "rate limited: retry after 30s"); err != nil {
		t.Fatalf("mark transient: %v", err)
	}

	entries := []model.SendLogEntry{
		{TaskID: task.ID, AccountID: acct.ID, TargetID: targets[0].ID, Success: true,
			MessageText: strings.Repeat("long message body ", 10), SentAt: now.Add(-2 * time.Second)},
		{TaskID: task.ID, AccountID: acct.ID, TargetID: targets[1].ID, Success: false,
			Category: "blocked by recipient", SentAt: now.Add(-time.Second)},
		{TaskID: task.ID, AccountID: acct.ID, TargetID: targets[2].ID, Success: false,
			Category: "rate limited", SentAt: now},
	}
	for i := range entries {
		if err := st.AppendSendLog(ctx, &entries[i]); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}
	return NewGenerator(st, logx.Nop()), st, task, acct
}

func TestBuildReport(t *testing.T) {
	gen, _, task, _ := seedRun(t)

	rep, err := gen.Build(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rep.SentCount != 1 || rep.FailedCount != 2 {
		t.Fatalf("counts = (%d, %d), want (1, 2)", rep.SentCount, rep.FailedCount)
	}

	success := string(rep.SuccessManifest)
	if !strings.Contains(success, "alice") {
		t.Fatalf("success manifest missing alice:\n%s", success)
	}
	if strings.Contains(success, "bob") || strings.Contains(success, "carol") {
		t.Fatalf("success manifest leaked failures:\n%s", success)
	}

	failure := string(rep.FailureManifest)
	if !strings.Contains(failure, "bob | blocked by recipient") {
		t.Fatalf("failure manifest missing categorized bob:\n%s", failure)
	}
	if !strings.Contains(failure, "carol | rate limited") {
		t.Fatalf("failure manifest missing categorized carol:\n%s", failure)
	}
}

func TestBuildReportAccountStats(t *testing.T) {
	gen, _, task, acct := seedRun(t)

	rep, err := gen.Build(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(rep.AccountStats) != 1 {
		t.Fatalf("stats = %d accounts, want 1", len(rep.AccountStats))
	}
	st := rep.AccountStats[0]
	if st.AccountID != acct.ID || st.Label != "sender-1" {
		t.Fatalf("stat identity = (%d, %q)", st.AccountID, st.Label)
	}
	if st.Success != 1 || st.Failed != 2 {
		t.Fatalf("stat counters = (%d, %d), want (1, 2)", st.Success, st.Failed)
	}
	if st.Categories["blocked by recipient"] != 1 || st.Categories["rate limited"] != 1 {
		t.Fatalf("histogram = %v", st.Categories)
	}
}

func TestDetailLogTruncatesPreview(t *testing.T) {
	gen, _, task, _ := seedRun(t)

	rep, err := gen.Build(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	detail := string(rep.DetailLog)
	if !strings.Contains(detail, "spring push") {
		t.Fatalf("detail log missing task name:\n%s", detail)
	}
	if !strings.Contains(detail, "sender-1: 1 delivered, 2 failed") {
		t.Fatalf("detail log missing account stats:\n%s", detail)
	}
	// The success entry's long body must show up truncated.
	if !strings.Contains(detail, "...") {
		t.Fatalf("long message preview not truncated:\n%s", detail)
	}
	full := strings.Repeat("long message body ", 10)
	if strings.Contains(detail, full) {
		t.Fatal("detail log contains the untruncated message body")
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	if got := preview("short"); got != "short" {
		t.Fatalf("preview(short) = %q", got)
	}
	long := strings.Repeat("é", 80)
	got := preview(long)
	if rs := []rune(got); len(rs) != previewRunes+3 {
		t.Fatalf("preview length = %d runes, want %d", len(rs), previewRunes+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("preview missing ellipsis: %q", got)
	}
}
