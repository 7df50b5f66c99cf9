package execution

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"norc/internal/registry"
)

// procExit is how a reaped child ended. A child terminated by a signal has
// no exit status; Status is -1 and Signal names the signal.
type procExit struct {
	Status int
	Signal syscall.Signal
}

func (e procExit) signaled() bool {
	return e.Signal != 0
}

func (e procExit) succeeded() bool {
	return !e.signaled() && e.Status == ExitSuccess
}

func (e procExit) describe() string {
	if e.signaled() {
		return fmt.Sprintf("task runner terminated by signal %s", unix.SignalName(e.Signal))
	}
	return DescribeExit(e.Status)
}

// runStatus is the run outcome for the exit. Signals other than SIGKILL are
// failures of the runner, never one of its reserved exit statuses.
func (e procExit) runStatus() registry.RunStatus {
	switch {
	case e.Signal == unix.SIGKILL:
		return registry.RunKilled
	case e.signaled():
		return registry.RunError
	default:
		return RunStatusForExit(e.Status)
	}
}

// procHandle is a launched child that is observed by polling, never by a
// blocking wait.
type procHandle interface {
	PID() int
	// Poll reaps the child if it has exited. It never blocks.
	Poll() (exited bool, exit procExit, err error)
	// Interrupt delivers SIGINT to the child's process group.
	Interrupt() error
	Release() error
}

type osProcess struct {
	proc *os.Process
}

func (p osProcess) PID() int {
	return p.proc.Pid
}

func (p osProcess) Poll() (bool, procExit, error) {
	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(p.proc.Pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, procExit{}, err
		}
		if pid == 0 {
			return false, procExit{}, nil
		}
		return true, waitExit(ws), nil
	}
}

func (p osProcess) Interrupt() error {
	// The child leads its own process group, so the signal also reaches
	// anything the runner spawned.
	err := unix.Kill(-p.proc.Pid, unix.SIGINT)
	if errors.Is(err, unix.ESRCH) {
		return p.proc.Signal(os.Interrupt)
	}
	return err
}

func (p osProcess) Release() error {
	return p.proc.Release()
}

func waitExit(ws unix.WaitStatus) procExit {
	switch {
	case ws.Exited():
		return procExit{Status: ws.ExitStatus()}
	case ws.Signaled():
		return procExit{Status: -1, Signal: ws.Signal()}
	default:
		return procExit{Status: -1}
	}
}
