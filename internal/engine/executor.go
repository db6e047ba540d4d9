package engine

import (
	"context"
	"time"

	"blastbot/internal/classify"
	"blastbot/internal/compose"
	"blastbot/internal/model"
	"blastbot/internal/platform"
	logx "blastbot/pkg/logx"
)

// attempt performs one delivery end to end: resolve the target identity,
// compose the payload, send, and reconcile the result into the store. The
// caller holds the account's quota lock for the whole call.
func (s *Service) attempt(ctx context.Context, run *taskRun, task model.Task, target model.Target, account model.Account) Outcome {
	log := s.log.With(
		logx.Int64("task", int64(task.ID)),
		logx.Int64("account", int64(account.ID)),
		logx.String("target", target.Identifier))
	now := time.Now().UTC()

	identity, err := s.client.ResolveIdentity(ctx, target.Identifier)
	if err != nil {
		reason := err.Error()
		if merr := s.store.MarkInvalid(ctx, target.ID, reason); merr != nil {
			log.Error("mark invalid", logx.Err(merr))
		}
		s.appendLog(ctx, task, target, account, "", false, reason)
		log.Warn("identity resolution failed", logx.Err(err))
		return OutcomePermanentFailure
	}
	if err := s.store.MarkResolved(ctx, target.ID, identity.FirstName, identity.LastName); err != nil {
		log.Error("mark resolved", logx.Err(err))
	}

	msg := compose.Build(task, identity)
	receipt, err := s.client.Send(ctx, identity, msg)
	if err == nil {
		return s.settleSuccess(ctx, task, target, account, identity, msg, receipt, now, log)
	}

	reason := err.Error()
	if pe, ok := platform.AsPermanent(err); ok {
		if merr := s.store.MarkInvalid(ctx, target.ID, reason); merr != nil {
			log.Error("mark invalid", logx.Err(merr))
		}
		if rerr := s.store.RecordSendAttempt(ctx, account.ID, false, now); rerr != nil {
			log.Error("record attempt", logx.Err(rerr))
		}
		s.appendLog(ctx, task, target, account, msg.Text, false, reason)
		log.Warn("permanent delivery failure", logx.String("kind", pe.Kind.String()), logx.Err(err))
		return OutcomePermanentFailure
	}

	if re, ok := platform.AsRateLimit(err); ok {
		if merr := s.store.MarkAccountLimited(ctx, account.ID); merr != nil {
			log.Error("mark account limited", logx.Err(merr))
		}
		if rerr := s.store.RecordSendAttempt(ctx, account.ID, false, now); rerr != nil {
			log.Error("record attempt", logx.Err(rerr))
		}
		// The target itself stays valid for a retry through another
		// account on a future run.
		if merr := s.store.MarkTransientFailure(ctx, target.ID, reason); merr != nil {
			log.Error("mark transient", logx.Err(merr))
		}
		s.appendLog(ctx, task, target, account, msg.Text, false, reason)
		wait := re.Wait
		if limit := s.maxLimitWait(); wait > limit {
			wait = limit
		}
		log.Warn("account rate-limited",
			logx.Duration("mandated_wait", re.Wait),
			logx.Duration("honored_wait", wait),
			logx.Bool("flood", re.Flood))
		if wait > 0 {
			sleepInterruptible(ctx, run.stop, wait)
		}
		return OutcomeAccountLimited
	}

	if merr := s.store.MarkTransientFailure(ctx, target.ID, reason); merr != nil {
		log.Error("mark transient", logx.Err(merr))
	}
	if rerr := s.store.RecordSendAttempt(ctx, account.ID, false, now); rerr != nil {
		log.Error("record attempt", logx.Err(rerr))
	}
	s.appendLog(ctx, task, target, account, msg.Text, false, reason)
	log.Warn("transient delivery failure", logx.Err(err))
	return OutcomeTransientFailure
}

func (s *Service) settleSuccess(ctx context.Context, task model.Task, target model.Target, account model.Account, identity platform.Identity, msg platform.Message, receipt platform.Receipt, now time.Time, log logx.Logger) Outcome {
	if err := s.store.MarkSent(ctx, target.ID, now); err != nil {
		log.Error("mark sent", logx.Err(err))
	}
	if err := s.store.RecordSendAttempt(ctx, account.ID, true, now); err != nil {
		log.Error("record attempt", logx.Err(err))
	}
	s.appendLog(ctx, task, target, account, msg.Text, true, "")
	log.Info("message delivered")

	if task.PinMessage {
		if err := s.client.PinMessage(ctx, identity, receipt); err != nil {
			log.Debug("pin message skipped", logx.Err(err))
		}
	}
	if task.DeleteDialog {
		if err := s.client.DeleteDialog(ctx, identity); err != nil {
			log.Debug("delete dialog skipped", logx.Err(err))
		}
	}
	return OutcomeSuccess
}

// appendLog writes one audit record; failures are logged, never propagated,
// since the attempt outcome is already decided.
func (s *Service) appendLog(ctx context.Context, task model.Task, target model.Target, account model.Account, text string, success bool, reason string) {
	entry := model.SendLogEntry{
		TaskID:      task.ID,
		AccountID:   account.ID,
		TargetID:    target.ID,
		MessageText: text,
		Success:     success,
	}
	if !success {
		entry.ErrorMessage = &reason
		entry.Category = string(classify.Categorize(reason))
	}
	if err := s.store.AppendSendLog(ctx, &entry); err != nil {
		s.log.Error("append send log",
			logx.Int64("task", int64(task.ID)),
			logx.Err(err))
	}
}
