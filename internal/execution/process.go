package execution

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"norc/internal/lifecycle"
	"norc/internal/registry"
)

// ProcessTask is a task executed by a separate runner process.
type ProcessTask struct {
	backend       *ProcessBackend
	task          registry.Task
	iteration     registry.Iteration
	daemonStatus  lifecycle.DaemonStatus
	correlationID string

	mu        sync.Mutex
	proc      procHandle
	started   bool
	exited    bool
	exit      procExit
	startedAt time.Time
}

func (t *ProcessTask) Task() registry.Task                  { return t.task }
func (t *ProcessTask) Iteration() registry.Iteration        { return t.iteration }
func (t *ProcessTask) DaemonStatus() lifecycle.DaemonStatus { return t.daemonStatus }
func (t *ProcessTask) Preemptive() bool                     { return true }

// CorrelationID is handed to the runner through NORC_CORRELATION_ID.
func (t *ProcessTask) CorrelationID() string { return t.correlationID }

// PID returns the runner's process id, or 0 before launch.
func (t *ProcessTask) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil {
		return 0
	}
	return t.proc.PID()
}

// Run launches the runner with its output appended to the task log, then
// waits the settle delay so the runner can record itself before the next
// poll.
func (t *ProcessTask) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("task already started")
	}
	proc, err := t.launch()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.proc = proc
	t.started = true
	t.startedAt = time.Now()
	t.mu.Unlock()

	sleepContext(ctx, t.backend.opts.SettleDelay)
	return nil
}

func (t *ProcessTask) launch() (procHandle, error) {
	opts := t.backend.opts
	logFile := t.task.LogFile
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("ensure task log dir: %w", err)
	}
	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open task log: %w", err)
	}
	defer out.Close()

	cmd := exec.Command(opts.RunnerBinary, t.args()...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "NORC_CORRELATION_ID="+t.correlationID)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartError(opts.RunnerBinary, err)
	}
	return osProcess{proc: cmd.Process}, nil
}

func (t *ProcessTask) args() []string {
	args := []string{
		"--daemon_status_id", strconv.FormatInt(t.daemonStatus.ID, 10),
		"--iteration_id", strconv.FormatInt(t.iteration.ID, 10),
		"--task_library", t.task.Library,
		"--task_id", strconv.FormatInt(t.task.ID, 10),
		"--stdout", t.task.LogFile,
		"--stderr", "STDOUT",
	}
	if t.backend.opts.Debug {
		args = append(args, "--debug")
	}
	if t.backend.opts.ConfigPath != "" {
		args = append(args, "--config", t.backend.opts.ConfigPath)
	}
	return args
}

func classifyStartError(runner string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", ErrRunnerNotFound, runner, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.ENOEXEC), errors.Is(err, exec.ErrDot):
		return fmt.Errorf("%w: %s: %v", ErrRunnerNotExecutable, runner, err)
	default:
		return fmt.Errorf("start runner %s: %w", runner, err)
	}
}

// poll refreshes the exit state. The child is reaped and released at most once.
func (t *ProcessTask) poll() (exited bool, exit procExit, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pollLocked()
}

func (t *ProcessTask) pollLocked() (bool, procExit, error) {
	if !t.started {
		return false, procExit{}, nil
	}
	if t.exited {
		return true, t.exit, nil
	}
	exited, exit, err := t.proc.Poll()
	if errors.Is(err, unix.ECHILD) {
		// Someone else reaped the child; its status is gone.
		exited, exit, err = true, procExit{Status: ExitNoStatus}, nil
	}
	if err != nil {
		return false, procExit{}, fmt.Errorf("poll runner %d: %w", t.proc.PID(), err)
	}
	if exited {
		t.exited = true
		t.exit = exit
		_ = t.proc.Release()
	}
	return exited, exit, nil
}

// IsRunning reports whether the runner process is still alive.
func (t *ProcessTask) IsRunning() bool {
	exited, _, err := t.poll()
	if err != nil {
		return true
	}
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	return started && !exited
}

// Interrupt sends SIGINT to a running runner.
func (t *ProcessTask) Interrupt(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return ErrNotStarted
	}
	exited, exit, err := t.pollLocked()
	if err != nil {
		return err
	}
	if exited {
		if exit.succeeded() {
			return ErrAlreadySucceeded
		}
		return &ExitError{Status: exit.Status, Signal: exit.Signal}
	}
	if err := t.proc.Interrupt(); err != nil {
		return fmt.Errorf("interrupt runner %d: %w", t.proc.PID(), err)
	}
	return nil
}

// ExitInfo reports the last observed exit state without polling.
func (t *ProcessTask) ExitInfo() ExitInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.started:
		return ExitInfo{State: ExitPending}
	case !t.exited:
		return ExitInfo{State: ExitRunning}
	case t.exit.succeeded():
		return ExitInfo{State: ExitSucceeded}
	default:
		return ExitInfo{
			State:  ExitFailed,
			Status: t.exit.Status,
			Signal: t.exit.Signal,
			Err:    &ExitError{Status: t.exit.Status, Signal: t.exit.Signal},
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
