// Package engine executes outreach tasks: it partitions a task's pending
// targets across concurrent workers, binds each worker to one sending
// account, paces every send, and reconciles quota, rate-limit and failure
// signals back into the store.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"blastbot/internal/model"
	"blastbot/internal/platform"
	"blastbot/internal/report"
	"blastbot/internal/store"
	logx "blastbot/pkg/logx"
)

// Notifier receives the completion report of a finished run. Delivery is
// best-effort; a nil Notifier disables it.
type Notifier interface {
	TaskFinished(ctx context.Context, task model.Task, rep report.Report)
}

// Service is the task execution engine. One Service owns all running tasks
// of the process.
type Service struct {
	cfg      Config
	store    *store.Store
	client   platform.Client
	reports  *report.Generator
	notifier Notifier
	log      logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	running map[model.TaskID]*taskRun
	// accountMu serializes quota-check, send and quota-record per account,
	// so two workers sharing an account can never double-spend the last
	// quota slot.
	accountMu map[model.AccountID]*sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New builds an engine. notifier may be nil.
func New(cfg Config, st *store.Store, client platform.Client, gen *report.Generator, notifier Notifier, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:       cfg,
		store:     st,
		client:    client,
		reports:   gen,
		notifier:  notifier,
		log:       log,
		running:   make(map[model.TaskID]*taskRun),
		accountMu: make(map[model.AccountID]*sync.Mutex),
	}
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return s
}

// Start arms the engine. Runs spawned by StartTask live under the given
// context; canceling it aborts all workers.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx, s.runCancel = context.WithCancel(ctx)
}

// Stop flags every running task to stop and waits for the workers to drain,
// bounded by ctx. Interrupted tasks end up paused and resumable.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, run := range s.running {
		select {
		case <-run.stop:
		default:
			close(run.stop)
		}
	}
	cancel := s.runCancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		return ctx.Err()
	}
}

// Apply updates hot-reloadable settings. Only the global rate ceiling is
// adjustable at runtime; running workers pick it up on their next send.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxLimitWait = cfg.MaxLimitWait
	if cfg.RatePerSec > 0 {
		if s.limiter == nil {
			s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		} else {
			s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
			s.limiter.SetBurst(cfg.RatePerSec)
		}
	} else {
		s.limiter = nil
	}
}

// CreateTask validates and persists a new pending task.
func (s *Service) CreateTask(ctx context.Context, t *model.Task) error {
	if t.Name == "" {
		return fmt.Errorf("task name required")
	}
	if t.SendVariant.Kind == model.VariantDirect && t.MessageTemplate == "" {
		return fmt.Errorf("direct task needs a message template")
	}
	t.Status = model.TaskPending
	return s.store.CreateTask(ctx, t)
}

// AddTargets feeds identifiers into the task's target list and returns the
// number of net-new targets after normalization and dedup.
func (s *Service) AddTargets(ctx context.Context, taskID model.TaskID, raw []string) (int, error) {
	return s.store.AddTargets(ctx, taskID, raw)
}

// StartTask spawns the workers for a task and returns. The run continues in
// the background until the target list is exhausted or the task is stopped.
//
// A task with no pending work completes immediately. Accounts are bound to
// workers round-robin over the active pool in stable id order; the worker
// count is min(task.ThreadCount, active accounts).
func (s *Service) StartTask(ctx context.Context, taskID model.TaskID) error {
	s.mu.Lock()
	runCtx := s.runCtx
	if runCtx == nil {
		s.mu.Unlock()
		return fmt.Errorf("engine not started")
	}
	if _, live := s.running[taskID]; live {
		s.mu.Unlock()
		return ErrTaskAlreadyRunning
	}
	s.mu.Unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	pending, err := s.store.PendingTargets(ctx, taskID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if len(pending) == 0 {
		if err := s.store.FinishTask(ctx, taskID, model.TaskCompleted, now); err != nil {
			return err
		}
		s.log.Info("task has no pending targets, completed immediately",
			logx.Int64("task", int64(taskID)))
		s.finishReport(ctx, taskID)
		return nil
	}

	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		total, _, cerr := s.store.AccountCounts(ctx)
		if cerr != nil {
			return cerr
		}
		if ferr := s.store.FinishTask(ctx, taskID, model.TaskFailed, now); ferr != nil {
			return ferr
		}
		if total == 0 {
			return ErrNoAccounts
		}
		return ErrNoActiveAccounts
	}

	if err := s.store.MarkTaskRunning(ctx, taskID, now); err != nil {
		return err
	}
	task.Status = model.TaskRunning

	run := &taskRun{stop: make(chan struct{}), done: make(chan struct{})}
	s.mu.Lock()
	if _, live := s.running[taskID]; live {
		s.mu.Unlock()
		return ErrTaskAlreadyRunning
	}
	s.running[taskID] = run
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx, run, task, pending, accounts)
	return nil
}

// StopTask flags a running task to stop and waits, bounded by ctx, for its
// workers to drain. The task ends up paused; StartTask resumes it from the
// remaining pending targets.
func (s *Service) StopTask(ctx context.Context, taskID model.TaskID) error {
	s.mu.Lock()
	run, live := s.running[taskID]
	s.mu.Unlock()
	if !live {
		return ErrTaskNotRunning
	}
	select {
	case <-run.stop:
	default:
		close(run.stop)
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteTask removes a stopped task with its targets and log entries.
func (s *Service) DeleteTask(ctx context.Context, taskID model.TaskID) error {
	s.mu.Lock()
	_, live := s.running[taskID]
	s.mu.Unlock()
	if live {
		return ErrTaskRunning
	}
	return s.store.DeleteTask(ctx, taskID)
}

// GetProgress returns a point-in-time progress view of a task.
func (s *Service) GetProgress(ctx context.Context, taskID model.TaskID) (model.Progress, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Progress{}, err
	}
	p := model.Progress{
		TaskID: task.ID,
		Name:   task.Name,
		Status: task.Status,
		Total:  task.TotalTargets,
		Sent:   task.SentCount,
		Failed: task.FailedCount,
	}
	p.Pending = p.Total - p.Sent - p.Failed
	if p.Pending < 0 {
		p.Pending = 0
	}
	if p.Total > 0 {
		p.Percent = float64(p.Sent) / float64(p.Total) * 100
	}
	return p, nil
}

// ExportResults builds the completion report for a task on demand.
func (s *Service) ExportResults(ctx context.Context, taskID model.TaskID) (report.Report, error) {
	return s.reports.Build(ctx, taskID)
}

// run owns one task execution: it partitions targets, fans out workers,
// waits, and settles the final status.
func (s *Service) run(ctx context.Context, run *taskRun, task model.Task, pending []model.Target, accounts []model.Account) {
	defer s.wg.Done()
	defer close(run.done)
	defer func() {
		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()
	}()

	workers := task.ThreadCount
	if workers > len(pending) {
		workers = len(pending)
	}
	if workers > len(accounts) {
		workers = len(accounts)
	}
	if workers < 1 {
		workers = 1
	}

	s.log.Info("task started",
		logx.Int64("task", int64(task.ID)),
		logx.String("name", task.Name),
		logx.Int("targets", len(pending)),
		logx.Int("workers", workers),
		logx.Int("accounts", len(accounts)))

	monCtx, monCancel := context.WithCancel(ctx)
	go s.monitor(monCtx, run, task.ID)

	var wg sync.WaitGroup
	for i, batch := range partition(pending, workers) {
		wg.Add(1)
		account := accounts[i%len(accounts)]
		go func(worker int, batch []model.Target, account model.Account) {
			defer wg.Done()
			s.runBatch(ctx, run, task, worker, batch, account)
		}(i, batch, account)
	}
	wg.Wait()
	monCancel()

	stopped := false
	select {
	case <-run.stop:
		stopped = true
	default:
	}
	if ctx.Err() != nil {
		stopped = true
	}

	final := model.TaskCompleted
	if stopped {
		final = model.TaskPaused
	}
	// Settlement must survive engine shutdown, hence Background.
	settleCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.store.FinishTask(settleCtx, task.ID, final, time.Now().UTC()); err != nil {
		s.log.Error("finish task", logx.Int64("task", int64(task.ID)), logx.Err(err))
		return
	}
	s.log.Info("task finished",
		logx.Int64("task", int64(task.ID)),
		logx.String("status", final.String()))
	s.finishReport(settleCtx, task.ID)
}

// finishReport builds the completion report and hands it to the notifier.
func (s *Service) finishReport(ctx context.Context, taskID model.TaskID) {
	rep, err := s.reports.Build(ctx, taskID)
	if err != nil {
		s.log.Error("build report", logx.Int64("task", int64(taskID)), logx.Err(err))
		return
	}
	if s.notifier == nil {
		return
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.log.Error("load task for notify", logx.Int64("task", int64(taskID)), logx.Err(err))
		return
	}
	s.notifier.TaskFinished(ctx, task, rep)
}

// globalLimiter snapshots the shared rate ceiling; Apply may swap it while
// workers run.
func (s *Service) globalLimiter() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter
}

func (s *Service) maxLimitWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxLimitWait
}

// accountLock returns the mutex guarding one account's quota window.
func (s *Service) accountLock(id model.AccountID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.accountMu[id]
	if !ok {
		mu = &sync.Mutex{}
		s.accountMu[id] = mu
	}
	return mu
}

// partition splits targets into n contiguous near-equal batches; the last
// batch absorbs the remainder.
func partition(targets []model.Target, n int) [][]model.Target {
	if n < 1 {
		n = 1
	}
	if n > len(targets) {
		n = len(targets)
	}
	size := len(targets) / n
	out := make([][]model.Target, 0, n)
	for i := 0; i < n; i++ {
		lo := i * size
		hi := lo + size
		if i == n-1 {
			hi = len(targets)
		}
		out = append(out, targets[lo:hi])
	}
	return out
}
