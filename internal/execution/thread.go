package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"norc/internal/lifecycle"
	"norc/internal/logging"
	"norc/internal/logroute"
	"norc/internal/registry"
)

// InterruptedMessage is written to the task log and the run when the daemon
// gives up on an in-process task.
const InterruptedMessage = "Task was interrupted by the daemon!"

// ThreadTask is a task whose run logic executes on a goroutine in the daemon.
type ThreadTask struct {
	backend      *ThreadBackend
	task         registry.Task
	iteration    registry.Iteration
	daemonStatus lifecycle.DaemonStatus
	log          io.Writer
	logger       *slog.Logger

	mu          sync.Mutex
	started     bool
	finished    bool
	interrupted bool
	status      registry.RunStatus
	err         error
	cancel      context.CancelFunc
	done        chan struct{}
}

func (t *ThreadTask) Task() registry.Task                  { return t.task }
func (t *ThreadTask) Iteration() registry.Iteration        { return t.iteration }
func (t *ThreadTask) DaemonStatus() lifecycle.DaemonStatus { return t.daemonStatus }
func (t *ThreadTask) Preemptive() bool                     { return false }

// Done is closed once the run logic has returned and the run is recorded.
func (t *ThreadTask) Done() <-chan struct{} { return t.done }

// Run spawns the goroutine. The task context is detached from ctx so that
// only Interrupt cancels it.
func (t *ThreadTask) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("task already started")
	}
	fn, lookupErr := t.backend.opts.Handlers.Lookup(t.task.Library)

	unitCtx := logroute.WithUnit(context.WithoutCancel(ctx), t.task.LogFile)
	unitCtx = logging.WithTask(unitCtx, t.task.Label(), t.task.ID, t.iteration.ID)
	unitCtx, cancel := context.WithCancel(unitCtx)
	t.cancel = cancel
	t.started = true
	t.mu.Unlock()

	t.backend.wg.Add(1)
	go t.execute(unitCtx, fn, lookupErr)
	return nil
}

func (t *ThreadTask) execute(ctx context.Context, fn RunFunc, lookupErr error) {
	defer t.backend.wg.Done()
	defer close(t.done)
	defer t.cancel()

	b := t.backend
	label := t.task.Label()
	t.logger.Info("task started", logging.Int64(logging.FieldIterationID, t.iteration.ID))

	err := lookupErr
	if err == nil {
		err = Invoke(ctx, fn, RunContext{
			Task:         t.task,
			Iteration:    t.iteration,
			DaemonStatus: t.daemonStatus,
			Log:          t.log,
			Logger:       t.logger,
		})
	}
	status := ClassifyResult(ctx, err)
	exit := ExitForRunStatus(status)

	message := ""
	switch {
	case err == nil:
		t.logger.Info("task finished")
	case errors.Is(err, ErrUnknownLibrary):
		message = err.Error()
		t.logger.Error("task did not run", logging.Error(err))
		b.logger.Warn("task did not run",
			logging.String(logging.FieldTask, label),
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_did_not_run"),
			logging.String(logging.FieldErrorHint, "register the task library with the daemon"),
		)
	default:
		message = err.Error()
		t.logger.Error("task failed", logging.Error(err))
		b.logger.Error("task failed",
			logging.String(logging.FieldTask, label),
			logging.String(logging.FieldStatus, string(status)),
			logging.Error(err),
		)
	}

	if _, ferr := b.opts.Store.FinishRun(context.WithoutCancel(ctx), t.task.ID, t.iteration.ID, status, &exit, message); ferr != nil {
		b.logger.Error("record task result failed", logging.String(logging.FieldTask, label), logging.Error(ferr))
	}
	if cerr := b.opts.Router.CloseLog(t.task.LogFile); cerr != nil {
		b.logger.Warn("close task log failed", logging.String(logging.FieldTask, label), logging.Error(cerr))
	}

	t.mu.Lock()
	t.finished = true
	t.status = status
	t.err = err
	t.mu.Unlock()
	b.forget(t)
}

// IsRunning reports whether the run logic has not yet returned.
func (t *ThreadTask) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.finished
}

// Interrupt records the run as ended in error and cancels the task context.
// The run logic keeps going until it notices the cancellation.
func (t *ThreadTask) Interrupt(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case !t.started:
		t.mu.Unlock()
		return ErrNotStarted
	case t.finished:
		t.mu.Unlock()
		return ErrAlreadyFinished
	}
	t.interrupted = true
	t.mu.Unlock()

	if err := t.backend.opts.Store.MarkIterationEndedInError(ctx, t.task.ID, t.iteration.ID, InterruptedMessage); err != nil {
		return fmt.Errorf("interrupt %s: %w", t.task.Label(), err)
	}
	t.logger.Error(InterruptedMessage)
	t.cancel()
	return nil
}

// Interrupted reports whether Interrupt was called on a running task.
func (t *ThreadTask) Interrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

// ExitInfo reports the outcome using the runner exit taxonomy.
func (t *ThreadTask) ExitInfo() ExitInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.started:
		return ExitInfo{State: ExitPending}
	case !t.finished:
		return ExitInfo{State: ExitRunning}
	case t.status == registry.RunSuccess:
		return ExitInfo{State: ExitSucceeded}
	default:
		return ExitInfo{State: ExitFailed, Status: ExitForRunStatus(t.status), Err: t.err}
	}
}
