package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"norc/internal/config"
	"norc/internal/execution"
	"norc/internal/lifecycle"
	"norc/internal/logging"
	"norc/internal/registry"
)

var (
	// ErrInterrupted is the cancellation cause after SIGINT.
	ErrInterrupted = errors.New("task runner interrupted")
	// ErrKilled is the cancellation cause after SIGTERM.
	ErrKilled = errors.New("task runner killed")
	// errDidNotRun marks a task the runner refused to start.
	errDidNotRun = errors.New("task did not run")
)

// Store is the registry surface the runner needs.
type Store interface {
	Task(ctx context.Context, id int64) (registry.Task, error)
	Iteration(ctx context.Context, id int64) (registry.Iteration, error)
	DaemonStatus(ctx context.Context, id int64) (lifecycle.DaemonStatus, error)
	Run(ctx context.Context, taskID, iterationID int64) (registry.Run, error)
	FinishRun(ctx context.Context, taskID, iterationID int64, status registry.RunStatus, exitStatus *int, message string) (bool, error)
}

// Options identifies the run and where its output goes.
type Options struct {
	DaemonStatusID int64
	IterationID    int64
	TaskID         int64
	Library        string
	CorrelationID  string
	Debug          bool
	// Log receives the task's output and the runner's log lines.
	Log      io.Writer
	Handlers *execution.Handlers
	// HandleSignals maps SIGINT and SIGTERM onto cancellation.
	HandleSignals bool
}

// Run executes one task and returns the runner exit status.
func Run(ctx context.Context, cfg *config.Config, store Store, opts Options) int {
	log := opts.Log
	if log == nil {
		log = os.Stdout
	}
	logger := newLogger(cfg, opts, log)

	if opts.HandleSignals {
		var stop func()
		ctx, stop = withSignals(ctx)
		defer stop()
	}
	ctx = logging.WithDaemonStatusID(ctx, opts.DaemonStatusID)
	if opts.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, opts.CorrelationID)
	}

	rc, err := prepare(ctx, store, opts)
	if err != nil {
		logger.Error("task did not run", logging.Error(err),
			logging.Int64(logging.FieldTaskID, opts.TaskID),
			logging.Int64(logging.FieldIterationID, opts.IterationID),
		)
		if errors.Is(err, errDidNotRun) && rc.Task.ID != 0 {
			finish(ctx, store, logger, rc, registry.RunSkipped, err)
		}
		return execution.ExitDidNotRun
	}
	taskLogger := logging.WithContext(logging.WithTask(ctx, rc.Task.Label(), rc.Task.ID, rc.Iteration.ID), logger)
	rc.Log = log
	rc.Logger = taskLogger

	fn, err := handlers(opts).Lookup(rc.Task.Library)
	if err != nil {
		taskLogger.Error("task did not run", logging.Error(err))
		finish(ctx, store, taskLogger, rc, registry.RunSkipped, err)
		return execution.ExitDidNotRun
	}

	taskLogger.Info("task started", logging.String("library", rc.Task.Library))
	err = execution.Invoke(ctx, fn, rc)
	status := classify(ctx, err)
	switch {
	case err == nil:
		taskLogger.Info("task finished")
	default:
		taskLogger.Error(execution.DescribeExit(execution.ExitForRunStatus(status)),
			logging.String(logging.FieldStatus, string(status)),
			logging.Error(err),
		)
	}
	finish(ctx, store, taskLogger, rc, status, err)
	return execution.ExitForRunStatus(status)
}

// prepare loads the run's task and iteration and checks they match the
// running row the daemon recorded at launch.
func prepare(ctx context.Context, store Store, opts Options) (execution.RunContext, error) {
	var rc execution.RunContext
	task, err := store.Task(ctx, opts.TaskID)
	if err != nil {
		return rc, fmt.Errorf("%w: load task %d: %v", errDidNotRun, opts.TaskID, err)
	}
	iteration, err := store.Iteration(ctx, opts.IterationID)
	if err != nil {
		return rc, fmt.Errorf("%w: load iteration %d: %v", errDidNotRun, opts.IterationID, err)
	}
	ds, err := store.DaemonStatus(ctx, opts.DaemonStatusID)
	if err != nil {
		return rc, fmt.Errorf("%w: load daemon status %d: %v", errDidNotRun, opts.DaemonStatusID, err)
	}
	run, err := store.Run(ctx, task.ID, iteration.ID)
	if err != nil {
		return rc, fmt.Errorf("%w: no run recorded for %s in iteration %d: %v", errDidNotRun, task.Label(), iteration.ID, err)
	}
	if run.Status != registry.RunRunning {
		return rc, fmt.Errorf("%w: run for %s already %s", errDidNotRun, task.Label(), run.Status)
	}

	if run.DaemonStatusID != ds.ID {
		return rc, fmt.Errorf("%w: run belongs to daemon status %d, not %d", errDidNotRun, run.DaemonStatusID, ds.ID)
	}

	// From here on the run is ours to close.
	rc = execution.RunContext{Task: task, Iteration: iteration, DaemonStatus: ds}
	switch {
	case task.JobID != iteration.JobID:
		return rc, fmt.Errorf("%w: iteration %d is not for job %s", errDidNotRun, iteration.ID, task.Job)
	case opts.Library != "" && opts.Library != task.Library:
		return rc, fmt.Errorf("%w: task library is %q, runner was asked for %q", errDidNotRun, task.Library, opts.Library)
	}
	return rc, nil
}

func classify(ctx context.Context, err error) registry.RunStatus {
	status := execution.ClassifyResult(ctx, err)
	if err != nil && ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrKilled) {
		return registry.RunKilled
	}
	return status
}

func finish(ctx context.Context, store Store, logger *slog.Logger, rc execution.RunContext, status registry.RunStatus, cause error) {
	exit := execution.ExitForRunStatus(status)
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	recorded, err := store.FinishRun(context.WithoutCancel(ctx), rc.Task.ID, rc.Iteration.ID, status, &exit, message)
	if err != nil {
		logger.Error("record task result failed", logging.Error(err))
		return
	}
	if !recorded {
		logger.Debug("run already finished; result not recorded", logging.String(logging.FieldStatus, string(status)))
	}
}

func handlers(opts Options) *execution.Handlers {
	if opts.Handlers != nil {
		return opts.Handlers
	}
	return execution.NewHandlers()
}

func newLogger(cfg *config.Config, opts Options, w io.Writer) *slog.Logger {
	lopts := logging.Options{Level: "info", Format: "console", Writer: w}
	if cfg != nil {
		lopts.Level = cfg.Logging.Level
		lopts.Format = cfg.Logging.Format
	}
	if opts.Debug {
		lopts.Level = "debug"
	}
	logger, err := logging.New(lopts)
	if err != nil {
		logger = slog.New(slog.NewTextHandler(w, nil))
	}
	return logging.NewComponentLogger(logger, "tmsd-run-task")
}

// withSignals cancels ctx with ErrInterrupted on SIGINT and ErrKilled on
// SIGTERM.
func withSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				if sig == syscall.SIGTERM {
					cancel(ErrKilled)
				} else {
					cancel(ErrInterrupted)
				}
			}
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		close(done)
		cancel(nil)
	}
}
