package engine

import "errors"

var (
	// ErrTaskAlreadyRunning: StartTask on a task that has live workers.
	ErrTaskAlreadyRunning = errors.New("task is already running")
	// ErrTaskNotRunning: StopTask on a task with no live workers.
	ErrTaskNotRunning = errors.New("task is not running")
	// ErrTaskRunning: DeleteTask must wait for the task to stop first.
	ErrTaskRunning = errors.New("cannot delete a running task; stop it first")
	// ErrNoAccounts: the account pool is empty.
	ErrNoAccounts = errors.New("no sending accounts configured")
	// ErrNoActiveAccounts: accounts exist but none are usable.
	ErrNoActiveAccounts = errors.New("no active sending accounts available")
)
