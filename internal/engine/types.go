package engine

import "time"

// Config controls the dispatcher.
//
// RatePerSec is an optional global ceiling across all workers of all tasks,
// on top of each worker's per-task jittered pacing; 0 disables it.
// MaxLimitWait caps how long a worker honors a platform-mandated rate-limit
// wait, so a pathological signal cannot park a worker for days.
type Config struct {
	RatePerSec   int
	MaxLimitWait time.Duration

	// Heartbeat cadence of the per-task progress monitor.
	MonitorMinInterval time.Duration
	MonitorMaxInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxLimitWait <= 0 {
		c.MaxLimitWait = time.Hour
	}
	if c.MonitorMinInterval <= 0 {
		c.MonitorMinInterval = 30 * time.Second
	}
	if c.MonitorMaxInterval < c.MonitorMinInterval {
		c.MonitorMaxInterval = c.MonitorMinInterval + 30*time.Second
	}
	return c
}

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	// OutcomeSuccess: delivered, target terminal.
	OutcomeSuccess Outcome = iota
	// OutcomePermanentFailure: target invalid, never retried for this task.
	OutcomePermanentFailure
	// OutcomeAccountLimited: the account hit a rate-limit signal; the
	// target stays eligible for a different account on a future run.
	OutcomeAccountLimited
	// OutcomeTransientFailure: counted as a failure, target retry-eligible.
	OutcomeTransientFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePermanentFailure:
		return "permanent_failure"
	case OutcomeAccountLimited:
		return "account_limited"
	case OutcomeTransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// taskRun tracks one in-flight task execution.
//
// stop is the cooperative stop flag: closed by StopTask, polled by every
// worker before each attempt. Workers never abort an attempt in flight or a
// sleep already started, so worst-case stop latency is one attempt plus one
// full pacing interval per worker.
type taskRun struct {
	stop chan struct{}
	done chan struct{}
}
