package execution

import (
	"fmt"

	"norc/internal/registry"
)

// Exit statuses of the tmsd-run-task runner.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitNotExecutable = 126
	ExitNotFound      = 127
	ExitTimedOut      = 130
	ExitInterrupted   = 131
	ExitKilled        = 132
	ExitDidNotRun     = 133
	ExitNoStatus      = 134
)

// DescribeExit returns the log message for a runner exit status.
func DescribeExit(status int) string {
	switch status {
	case ExitSuccess:
		return "task succeeded"
	case ExitTimedOut:
		return "task timed out"
	case ExitInterrupted:
		return "task was interrupted"
	case ExitKilled:
		return "task was killed"
	case ExitDidNotRun:
		return "task did not run"
	case ExitNoStatus:
		return "task ended without a status"
	case ExitNotExecutable:
		return "task runner is not executable"
	case ExitNotFound:
		return "task runner was not found"
	default:
		return fmt.Sprintf("task failed with status %d", status)
	}
}

// FatalExit returns the deployment error for statuses that mean the runner
// itself is broken, or nil.
func FatalExit(status int) error {
	switch status {
	case ExitNotExecutable:
		return ErrRunnerNotExecutable
	case ExitNotFound:
		return ErrRunnerNotFound
	default:
		return nil
	}
}

// RunStatusForExit maps a runner exit status onto the run status recorded
// in the registry.
func RunStatusForExit(status int) registry.RunStatus {
	switch status {
	case ExitSuccess:
		return registry.RunSuccess
	case ExitTimedOut:
		return registry.RunTimedOut
	case ExitInterrupted:
		return registry.RunInterrupted
	case ExitKilled:
		return registry.RunKilled
	case ExitDidNotRun:
		return registry.RunSkipped
	case ExitNoStatus:
		return registry.RunNoStatus
	default:
		return registry.RunError
	}
}

// ExitForRunStatus is the inverse of RunStatusForExit, used by the runner to
// pick its exit status.
func ExitForRunStatus(status registry.RunStatus) int {
	switch status {
	case registry.RunSuccess:
		return ExitSuccess
	case registry.RunTimedOut:
		return ExitTimedOut
	case registry.RunInterrupted:
		return ExitInterrupted
	case registry.RunKilled:
		return ExitKilled
	case registry.RunSkipped:
		return ExitDidNotRun
	case registry.RunNoStatus:
		return ExitNoStatus
	default:
		return ExitFailure
	}
}
