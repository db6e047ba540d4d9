package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"blastbot/internal/model"
	"blastbot/internal/platform"
	"blastbot/internal/report"
	"blastbot/internal/store"
	logx "blastbot/pkg/logx"
)

// fakeClient is an in-memory platform adapter. sendErr decides the outcome
// per identifier; delay simulates wire latency so stop tests get a window.
type fakeClient struct {
	mu        sync.Mutex
	sent      []string
	delay     time.Duration
	sendErr   func(identifier string) error
	firstSend chan struct{}
	firstOnce sync.Once
}

func (f *fakeClient) ResolveIdentity(_ context.Context, identifier string) (platform.Identity, error) {
	if strings.HasPrefix(identifier, "ghost") {
		return platform.Identity{}, &platform.PermanentError{Kind: platform.PermanentNotFound, Msg: "chat not found"}
	}
	return platform.Identity{ID: int64(len(identifier)), Handle: identifier, FirstName: "Pat"}, nil
}

func (f *fakeClient) Send(_ context.Context, to platform.Identity, _ platform.Message) (platform.Receipt, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.firstSend != nil {
		f.firstOnce.Do(func() { close(f.firstSend) })
	}
	if f.sendErr != nil {
		if err := f.sendErr(to.Handle); err != nil {
			return platform.Receipt{}, err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, to.Handle)
	f.mu.Unlock()
	return platform.Receipt{MessageID: 1}, nil
}

func (f *fakeClient) PinMessage(context.Context, platform.Identity, platform.Receipt) error {
	return platform.ErrUnsupported
}

func (f *fakeClient) DeleteDialog(context.Context, platform.Identity) error {
	return platform.ErrUnsupported
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestEngine(t *testing.T, client platform.Client) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "engine.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	gen := report.NewGenerator(st, logx.Nop())
	svc := New(Config{MaxLimitWait: 50 * time.Millisecond}, st, client, gen, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)
	t.Cleanup(func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = svc.Stop(shutdownCtx)
	})
	return svc, st
}

func seedTask(t *testing.T, svc *Service, st *store.Store, targets []string, threads, minIv, maxIv int) model.Task {
	t.Helper()
	ctx := context.Background()
	task := model.Task{
		Name:            "wave",
		MessageTemplate: "hi {name}",
		MinInterval:     minIv,
		MaxInterval:     maxIv,
		ThreadCount:     threads,
	}
	if err := svc.CreateTask(ctx, &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if len(targets) > 0 {
		if _, err := svc.AddTargets(ctx, task.ID, targets); err != nil {
			t.Fatalf("add targets: %v", err)
		}
	}
	return task
}

func seedAccount(t *testing.T, st *store.Store, label string, quota int) model.Account {
	t.Helper()
	a := model.Account{Label: label, CredentialRef: "ref-" + label, DailyQuota: quota}
	if err := st.CreateAccount(context.Background(), &a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func waitForStatus(t *testing.T, st *store.Store, id model.TaskID, want model.TaskStatus) model.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := st.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := st.GetTask(context.Background(), id)
	t.Fatalf("task never reached %s, stuck at %s", want, task.Status)
	return model.Task{}
}

func TestRunDeliversAllTargets(t *testing.T) {
	fake := &fakeClient{}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	seedAccount(t, st, "a1", 100)
	seedAccount(t, st, "a2", 100)
	task := seedTask(t, svc, st, []string{"alice", "bob", "carol", "dave"}, 2, 0, 0)

	if err := svc.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := waitForStatus(t, st, task.ID, model.TaskCompleted)

	if done.SentCount != 4 || done.FailedCount != 0 {
		t.Fatalf("counters = (%d sent, %d failed), want (4, 0)", done.SentCount, done.FailedCount)
	}
	if fake.sentCount() != 4 {
		t.Fatalf("client saw %d sends, want 4", fake.sentCount())
	}
	pending, _ := st.PendingTargets(ctx, task.ID)
	if len(pending) != 0 {
		t.Fatalf("pending after completion = %d, want 0", len(pending))
	}

	p, err := svc.GetProgress(ctx, task.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Percent != 100 {
		t.Fatalf("percent = %v, want 100", p.Percent)
	}
}

func TestQuotaExhaustionSkipsRemainder(t *testing.T) {
	fake := &fakeClient{}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	acct := seedAccount(t, st, "tiny", 1)
	task := seedTask(t, svc, st, []string{"alice", "bob"}, 1, 0, 0)

	if err := svc.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := waitForStatus(t, st, task.ID, model.TaskCompleted)

	if done.SentCount != 1 {
		t.Fatalf("sent = %d, want exactly 1 (quota)", done.SentCount)
	}
	if fake.sentCount() != 1 {
		t.Fatalf("client saw %d sends, want 1", fake.sentCount())
	}
	// The unattempted target is neither sent nor failed, just pending.
	if done.FailedCount != 0 {
		t.Fatalf("failed = %d, want 0", done.FailedCount)
	}
	pending, _ := st.PendingTargets(ctx, task.ID)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	got, _ := st.GetAccount(ctx, acct.ID)
	if got.SentToday != 1 || !got.QuotaExhausted() {
		t.Fatalf("account sent_today = %d quota %d, want exhausted at 1", got.SentToday, got.DailyQuota)
	}
}

func TestRateLimitSuspendsAccountKeepsTarget(t *testing.T) {
	fake := &fakeClient{
		sendErr: func(identifier string) error {
			if identifier == "alice" {
				return &platform.RateLimitError{Wait: 10 * time.Millisecond}
			}
			return nil
		},
	}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	acct := seedAccount(t, st, "hot", 100)
	task := seedTask(t, svc, st, []string{"alice", "bob"}, 1, 0, 0)

	if err := svc.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := waitForStatus(t, st, task.ID, model.TaskCompleted)

	if done.FailedCount != 1 || done.SentCount != 0 {
		t.Fatalf("counters = (%d sent, %d failed), want (0, 1)", done.SentCount, done.FailedCount)
	}
	got, _ := st.GetAccount(ctx, acct.ID)
	if got.Status != model.AccountLimited {
		t.Fatalf("account status = %s, want limited", got.Status)
	}

	// The rate-limited target must stay retry-eligible for another run.
	pending, _ := st.PendingTargets(ctx, task.ID)
	found := false
	for _, p := range pending {
		if p.Identifier == "alice" {
			found = true
			if p.ErrorMessage == nil {
				t.Fatal("rate-limited target should carry the failure reason")
			}
		}
	}
	if !found {
		t.Fatalf("alice not pending anymore: %+v", pending)
	}

	logs, _ := st.SendLogsForTask(ctx, task.ID)
	if len(logs) != 1 || logs[0].Category != "rate limited" {
		t.Fatalf("log = %+v, want one rate-limited entry", logs)
	}
}

func TestPermanentFailureInvalidatesTarget(t *testing.T) {
	fake := &fakeClient{
		sendErr: func(identifier string) error {
			if identifier == "private" {
				return &platform.PermanentError{Kind: platform.PermanentPrivacyRestricted, Msg: "UserPrivacyRestricted"}
			}
			return nil
		},
	}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	seedAccount(t, st, "a1", 100)
	task := seedTask(t, svc, st, []string{"private", "ghost1", "open"}, 1, 0, 0)

	if err := svc.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := waitForStatus(t, st, task.ID, model.TaskCompleted)

	if done.SentCount != 1 || done.FailedCount != 2 {
		t.Fatalf("counters = (%d sent, %d failed), want (1, 2)", done.SentCount, done.FailedCount)
	}
	// Both the send failure and the resolution failure are permanent;
	// neither target may ever come back as pending.
	pending, _ := st.PendingTargets(ctx, task.ID)
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want none", pending)
	}
	failed, _ := st.FailedTargets(ctx, task.ID)
	if len(failed) != 2 {
		t.Fatalf("failed = %d, want 2", len(failed))
	}
}

func TestStopPausesAndResumes(t *testing.T) {
	fake := &fakeClient{delay: 20 * time.Millisecond, firstSend: make(chan struct{})}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	seedAccount(t, st, "a1", 1000)
	task := seedTask(t, svc, st, []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"}, 1, 0, 0)

	if err := svc.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.StartTask(ctx, task.ID); !errors.Is(err, ErrTaskAlreadyRunning) {
		t.Fatalf("double start = %v, want ErrTaskAlreadyRunning", err)
	}
	if err := svc.DeleteTask(ctx, task.ID); !errors.Is(err, ErrTaskRunning) {
		t.Fatalf("delete running = %v, want ErrTaskRunning", err)
	}

	<-fake.firstSend
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.StopTask(stopCtx, task.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	paused := waitForStatus(t, st, task.ID, model.TaskPaused)
	if paused.SentCount == 0 {
		t.Fatal("at least one target should have gone out before the stop")
	}
	pending, _ := st.PendingTargets(ctx, task.ID)
	if len(pending) == 0 {
		t.Fatal("a stopped task should leave pending targets behind")
	}

	if err := svc.StopTask(ctx, task.ID); !errors.Is(err, ErrTaskNotRunning) {
		t.Fatalf("stop idle = %v, want ErrTaskNotRunning", err)
	}

	// Resume drains the remainder without re-sending delivered targets.
	if err := svc.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed := waitForStatus(t, st, task.ID, model.TaskCompleted)
	if resumed.SentCount != 8 {
		t.Fatalf("sent after resume = %d, want all 8", resumed.SentCount)
	}
	if fake.sentCount() != 8 {
		t.Fatalf("client saw %d sends, want 8 with no duplicates", fake.sentCount())
	}
	left, _ := st.PendingTargets(ctx, task.ID)
	if len(left) != 0 {
		t.Fatalf("pending after resume = %d, want 0", len(left))
	}
}

func TestStartTaskWithoutAccounts(t *testing.T) {
	fake := &fakeClient{}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	task := seedTask(t, svc, st, []string{"alice"}, 1, 0, 0)
	if err := svc.StartTask(ctx, task.ID); !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("start = %v, want ErrNoAccounts", err)
	}
	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestStartTaskNoActiveAccounts(t *testing.T) {
	fake := &fakeClient{}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	a := seedAccount(t, st, "benched", 10)
	if err := st.SetAccountStatus(ctx, a.ID, model.AccountBanned); err != nil {
		t.Fatalf("bench account: %v", err)
	}
	task := seedTask(t, svc, st, []string{"alice"}, 1, 0, 0)
	if err := svc.StartTask(ctx, task.ID); !errors.Is(err, ErrNoActiveAccounts) {
		t.Fatalf("start = %v, want ErrNoActiveAccounts", err)
	}
}

func TestStartTaskWithoutPendingCompletes(t *testing.T) {
	fake := &fakeClient{}
	svc, st := newTestEngine(t, fake)
	ctx := context.Background()

	seedAccount(t, st, "a1", 10)
	task := seedTask(t, svc, st, nil, 1, 0, 0)
	if err := svc.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestPartition(t *testing.T) {
	t.Parallel()
	mk := func(n int) []model.Target {
		out := make([]model.Target, n)
		for i := range out {
			out[i] = model.Target{ID: model.TargetID(i + 1)}
		}
		return out
	}
	tests := []struct {
		name    string
		targets int
		workers int
		sizes   []int
	}{
		{name: "even", targets: 6, workers: 2, sizes: []int{3, 3}},
		{name: "remainder to last", targets: 7, workers: 3, sizes: []int{2, 2, 3}},
		{name: "more workers than targets", targets: 2, workers: 5, sizes: []int{1, 1}},
		{name: "single worker", targets: 4, workers: 1, sizes: []int{4}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := partition(mk(tt.targets), tt.workers)
			if len(got) != len(tt.sizes) {
				t.Fatalf("batches = %d, want %d", len(got), len(tt.sizes))
			}
			total := 0
			for i, b := range got {
				if len(b) != tt.sizes[i] {
					t.Fatalf("batch %d size = %d, want %d", i, len(b), tt.sizes[i])
				}
				total += len(b)
			}
			if total != tt.targets {
				t.Fatalf("partition dropped targets: %d != %d", total, tt.targets)
			}
		})
	}
}
