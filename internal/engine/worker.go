package engine

import (
	"context"
	"math/rand"
	"time"

	"blastbot/internal/model"
	logx "blastbot/pkg/logx"
)

// runBatch drives one worker over its contiguous slice of targets using a
// single bound account. Per target: poll the stop flag, take the account's
// quota lock, roll the quota window if the day changed, skip out when the
// quota is spent, attempt the send, then sleep a jittered pacing interval.
func (s *Service) runBatch(ctx context.Context, run *taskRun, task model.Task, worker int, batch []model.Target, account model.Account) {
	log := s.log.With(
		logx.Int64("task", int64(task.ID)),
		logx.Int("worker", worker),
		logx.Int64("account", int64(account.ID)))
	log.Debug("worker started", logx.Int("batch", len(batch)))

	lock := s.accountLock(account.ID)
	for i, target := range batch {
		select {
		case <-run.stop:
			log.Debug("worker stopping on flag", logx.Int("remaining", len(batch)-i))
			return
		case <-ctx.Done():
			return
		default:
		}

		if lim := s.globalLimiter(); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		lock.Lock()
		acct, err := s.store.RolloverIfNewDay(ctx, account.ID, time.Now().UTC())
		if err != nil {
			lock.Unlock()
			log.Error("quota rollover", logx.Err(err))
			return
		}
		if acct.QuotaExhausted() {
			lock.Unlock()
			log.Warn("daily quota exhausted, worker retiring",
				logx.Int("sent_today", acct.SentToday),
				logx.Int("quota", acct.DailyQuota),
				logx.Int("remaining", len(batch)-i))
			return
		}
		outcome := s.attempt(ctx, run, task, target, acct)
		lock.Unlock()

		sentDelta, failedDelta := 0, 1
		if outcome == OutcomeSuccess {
			sentDelta, failedDelta = 1, 0
		}
		if err := s.store.AddTaskProgress(ctx, task.ID, sentDelta, failedDelta); err != nil {
			log.Error("record progress", logx.Err(err))
		}

		if outcome == OutcomeAccountLimited {
			// The bound account is suspended; pushing the rest of the
			// batch through it would only repeat the signal.
			log.Warn("account limited, worker retiring", logx.Int("remaining", len(batch)-i-1))
			return
		}

		if i < len(batch)-1 {
			if !s.pace(ctx, run, task) {
				return
			}
		}
	}
	log.Debug("worker drained batch")
}

// pace sleeps a uniform random interval in [MinInterval, MaxInterval]
// seconds. Returns false when interrupted by the stop flag or context.
func (s *Service) pace(ctx context.Context, run *taskRun, task model.Task) bool {
	min, max := task.MinInterval, task.MaxInterval
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	d := time.Duration(min) * time.Second
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)+1)) * time.Second
	}
	return sleepInterruptible(ctx, run.stop, d)
}

// sleepInterruptible sleeps for d unless the stop channel closes or the
// context ends first. Returns true when the full duration elapsed.
func sleepInterruptible(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}
