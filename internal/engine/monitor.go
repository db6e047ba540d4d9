package engine

import (
	"context"
	"math/rand"
	"time"

	"blastbot/internal/model"
	logx "blastbot/pkg/logx"
)

// monitor logs a progress heartbeat for one running task on a randomized
// cadence until the run ends. Pure observability, no control flow.
func (s *Service) monitor(ctx context.Context, run *taskRun, taskID model.TaskID) {
	for {
		d := s.cfg.MonitorMinInterval
		if span := s.cfg.MonitorMaxInterval - s.cfg.MonitorMinInterval; span > 0 {
			d += time.Duration(rand.Int63n(int64(span) + 1))
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-run.stop:
			t.Stop()
			return
		case <-t.C:
		}

		p, err := s.GetProgress(ctx, taskID)
		if err != nil {
			s.log.Debug("monitor progress read failed",
				logx.Int64("task", int64(taskID)), logx.Err(err))
			continue
		}
		s.log.Info("task progress",
			logx.Int64("task", int64(taskID)),
			logx.Int("sent", p.Sent),
			logx.Int("failed", p.Failed),
			logx.Int("pending", p.Pending),
			logx.Float64("percent", p.Percent))
	}
}
