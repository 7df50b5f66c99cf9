package execution

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"norc/internal/lifecycle"
	"norc/internal/registry"
)

var (
	// ErrNotStarted is returned when interrupting a task that never launched.
	ErrNotStarted = errors.New("task has not been started")
	// ErrAlreadySucceeded is returned when interrupting a process that exited 0.
	ErrAlreadySucceeded = errors.New("task already succeeded")
	// ErrAlreadyFinished is returned when interrupting an in-process task
	// whose run logic has returned.
	ErrAlreadyFinished = errors.New("task already finished")
	// ErrRunnerNotFound means the task runner executable does not exist.
	ErrRunnerNotFound = errors.New("task runner not found")
	// ErrRunnerNotExecutable means the task runner exists but cannot be executed.
	ErrRunnerNotExecutable = errors.New("task runner not executable")
)

// ExitError reports that a task process already ended with a non-zero
// status or was terminated by a signal.
type ExitError struct {
	Status int
	Signal syscall.Signal
}

func (e *ExitError) Error() string {
	if e.Signal != 0 {
		return "task already terminated by " + unix.SignalName(e.Signal)
	}
	return fmt.Sprintf("task already failed with status %d", e.Status)
}

// Fatal reports whether err is a deployment error that must stop the daemon.
func Fatal(err error) bool {
	return errors.Is(err, ErrRunnerNotFound) || errors.Is(err, ErrRunnerNotExecutable)
}

// ExitState summarizes where a runnable is in its life.
type ExitState string

const (
	ExitPending   ExitState = "pending"
	ExitRunning   ExitState = "running"
	ExitSucceeded ExitState = "succeeded"
	ExitFailed    ExitState = "failed"
)

// ExitInfo is a point-in-time view of how a runnable ended.
type ExitInfo struct {
	State ExitState
	// Status is the process exit status, or the runner taxonomy equivalent
	// for in-process tasks. Meaningless while pending or running, and -1
	// when Signal is set.
	Status int
	// Signal is the signal that terminated a runner process, or 0.
	Signal syscall.Signal
	Err    error
}

// Runnable is one admitted task execution.
type Runnable interface {
	Task() registry.Task
	Iteration() registry.Iteration
	DaemonStatus() lifecycle.DaemonStatus
	// Run launches the task. It does not wait for the task to end.
	Run(ctx context.Context) error
	IsRunning() bool
	// Interrupt asks a running task to end. It fails when the task was never
	// started or has already ended.
	Interrupt(ctx context.Context) error
	ExitInfo() ExitInfo
	// Preemptive reports whether Interrupt actually stops the task's code.
	Preemptive() bool
}

// RunStore is the slice of the registry the backends write to.
type RunStore interface {
	BeginRun(ctx context.Context, task registry.Task, iteration registry.Iteration, daemonStatusID int64, region string) (registry.Run, error)
	FinishRun(ctx context.Context, taskID, iterationID int64, status registry.RunStatus, exitStatus *int, message string) (bool, error)
	MarkIterationEndedInError(ctx context.Context, taskID, iterationID int64, message string) error
}
