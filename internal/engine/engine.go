package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"norc/internal/execution"
	"norc/internal/lifecycle"
	"norc/internal/logging"
	"norc/internal/metrics"
	"norc/internal/registry"
	"norc/internal/tracing"
)

// DefaultPageSize caps how many candidates one admission batch considers.
const DefaultPageSize = 10

// Registry is the registry surface the engine reads and writes.
type Registry interface {
	CreateDaemonStatus(ctx context.Context, region string) (lifecycle.DaemonStatus, error)
	DaemonStatus(ctx context.Context, id int64) (lifecycle.DaemonStatus, error)
	TransitionDaemonStatus(ctx context.Context, id int64, to lifecycle.Status, from ...lifecycle.Status) (bool, error)
	EligibleTasks(ctx context.Context, region string, opts registry.EligibleOptions) ([]registry.Candidate, error)
	ResourcesAvailable(ctx context.Context, task registry.Task, region string) (bool, error)
}

// Backend launches and tracks runnables.
type Backend interface {
	Name() string
	Label() string
	Preemptive() bool
	Start(ctx context.Context, task registry.Task, iteration registry.Iteration, ds lifecycle.DaemonStatus) (execution.Runnable, error)
	// Running returns the runnables still alive. A non-nil error may carry
	// deployment failures observed while polling.
	Running(ctx context.Context) ([]execution.Runnable, error)
}

// Options configures an Engine.
type Options struct {
	Region string
	// PollInterval is fixed for the engine's life.
	PollInterval time.Duration
	PageSize     int
	Recorder     metrics.Recorder
}

// errStatusConflict means the row changed under an engine-issued transition.
var errStatusConflict = errors.New("daemon status changed concurrently")

// Engine drives one daemon run.
type Engine struct {
	reg      Registry
	backend  Backend
	logger   *slog.Logger
	opts     Options
	recorder metrics.Recorder
	tracer   trace.Tracer
	sleep    func(context.Context, time.Duration)

	id             int64
	breakAdmission atomic.Bool

	mu     sync.RWMutex
	status lifecycle.DaemonStatus
}

// New validates opts and creates the DaemonStatus row (RUNNING) the engine
// will own.
func New(ctx context.Context, reg Registry, backend Backend, logger *slog.Logger, opts Options) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("engine requires a registry")
	}
	if backend == nil {
		return nil, errors.New("engine requires a backend")
	}
	opts.Region = strings.TrimSpace(opts.Region)
	if opts.Region == "" {
		return nil, errors.New("engine requires a region")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	ds, err := reg.CreateDaemonStatus(ctx, opts.Region)
	if err != nil {
		return nil, fmt.Errorf("create daemon status: %w", err)
	}
	return &Engine{
		reg:      reg,
		backend:  backend,
		opts:     opts,
		recorder: recorder,
		tracer:   tracing.Tracer(),
		sleep:    sleepContext,
		id:       ds.ID,
		status:   ds,
		logger: logging.NewComponentLogger(logger, "engine").With(
			logging.Int64(logging.FieldDaemonStatusID, ds.ID),
			logging.String(logging.FieldRegion, opts.Region),
			logging.String(logging.FieldBackend, backend.Name()),
		),
	}, nil
}

// DaemonStatusID returns the id of the row this engine owns.
func (e *Engine) DaemonStatusID() int64 { return e.id }

// Status returns the most recently observed snapshot.
func (e *Engine) Status() lifecycle.DaemonStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Run polls until the daemon reaches a terminal status. graceful is true
// when the run ended in ENDEDGRACEFULLY. Any error or panic escaping the
// loop moves the status to ERROR.
//
// Cancelling ctx is handled as a kill request; the loop then continues on a
// detached context so it can interrupt running tasks and record the result.
func (e *Engine) Run(ctx context.Context) (graceful bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			graceful = false
			err = fmt.Errorf("daemon loop panicked: %v", r)
		}
		if err != nil {
			e.fail(context.WithoutCancel(ctx), err)
		}
	}()
	return e.loop(ctx)
}

func (e *Engine) loop(parent context.Context) (bool, error) {
	ctx := parent
	detached := false
	for {
		if !detached && parent.Err() != nil {
			detached = true
			ctx = context.WithoutCancel(parent)
			e.logger.Info("daemon context cancelled; requesting kill")
			if _, err := e.RequestKill(ctx); err != nil {
				return false, err
			}
		}

		done, graceful, err := e.step(ctx)
		if errors.Is(err, errStatusConflict) {
			e.logger.Debug("daemon status changed during iteration; re-reading")
			continue
		}
		if err != nil {
			return false, err
		}
		if done {
			return graceful, nil
		}
		e.sleep(ctx, e.opts.PollInterval)
	}
}

// step runs one poll iteration.
func (e *Engine) step(ctx context.Context) (done, graceful bool, err error) {
	e.breakAdmission.Store(false)
	ds, err := e.refresh(ctx)
	if err != nil {
		return false, false, err
	}
	running, err := e.running(ctx)
	if err != nil {
		return false, false, err
	}

	switch {
	case ds.IsStopRequested() || ds.IsBeingStopped():
		return e.handleStop(ctx, ds, running)
	case ds.IsKillRequested() || ds.IsBeingKilled():
		return e.handleKill(ctx, ds, running)
	case ds.IsPauseRequested():
		if err := e.transition(ctx, ds, lifecycle.StatusPaused); err != nil {
			return false, false, err
		}
		e.logger.Info("daemon paused", logging.Int("running_tasks", len(running)))
		return false, false, nil
	case ds.IsPaused():
		e.logger.Debug("daemon paused; not admitting tasks")
		return false, false, nil
	case ds.IsRunning():
		return false, false, e.runBatch(ctx, ds)
	default:
		return false, false, fmt.Errorf("daemon status %d in unexpected state %s", e.id, ds.Status)
	}
}

func (e *Engine) handleStop(ctx context.Context, ds lifecycle.DaemonStatus, running []execution.Runnable) (bool, bool, error) {
	if !ds.IsBeingStopped() {
		if err := e.transition(ctx, ds, lifecycle.StatusStopInProgress); err != nil {
			return false, false, err
		}
		ds.Status = lifecycle.StatusStopInProgress
	}
	if len(running) == 0 {
		if err := e.transition(ctx, ds, lifecycle.StatusEndedGracefully); err != nil {
			return false, false, err
		}
		e.logger.Info("daemon stopped gracefully")
		return true, true, nil
	}
	e.logger.Info("waiting for running tasks before stopping", logging.Int("running_tasks", len(running)))
	return false, false, nil
}

func (e *Engine) handleKill(ctx context.Context, ds lifecycle.DaemonStatus, running []execution.Runnable) (bool, bool, error) {
	if len(running) == 0 {
		if err := e.transition(ctx, ds, lifecycle.StatusEndedGracefully); err != nil {
			return false, false, err
		}
		e.logger.Info("kill requested with no running tasks; daemon ended gracefully")
		return true, true, nil
	}
	if !ds.IsBeingKilled() {
		if err := e.transition(ctx, ds, lifecycle.StatusKillInProgress); err != nil {
			return false, false, err
		}
		ds.Status = lifecycle.StatusKillInProgress
	}

	e.logger.Info("interrupting running tasks", logging.Int("running_tasks", len(running)))
	for _, r := range running {
		task := r.Task()
		if err := r.Interrupt(ctx); err != nil {
			e.recorder.IncInterrupt(e.backend.Name(), false)
			e.logger.Error("interrupt task failed",
				logging.String(logging.FieldTask, task.Label()),
				logging.Int64(logging.FieldIterationID, r.Iteration().ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "task_interrupt_failed"),
			)
			continue
		}
		e.recorder.IncInterrupt(e.backend.Name(), true)
		e.logger.Info("task interrupted",
			logging.String(logging.FieldTask, task.Label()),
			logging.Bool("preemptive", r.Preemptive()),
		)
	}

	if err := e.transition(ctx, ds, lifecycle.StatusKilled); err != nil {
		return false, false, err
	}
	e.logger.Warn("daemon killed with tasks still running",
		logging.Int("running_tasks", len(running)),
		logging.String(logging.FieldEventType, "daemon_killed"),
		logging.String(logging.FieldImpact, "interrupted tasks may still be executing"),
	)
	return true, false, nil
}

// refresh re-reads the row; this is where external requests become visible.
func (e *Engine) refresh(ctx context.Context) (lifecycle.DaemonStatus, error) {
	ds, err := e.reg.DaemonStatus(ctx, e.id)
	if err != nil {
		return lifecycle.DaemonStatus{}, fmt.Errorf("refresh daemon status %d: %w", e.id, err)
	}
	e.mu.Lock()
	previous := e.status.Status
	e.status = ds
	e.mu.Unlock()
	if previous != ds.Status {
		e.logger.Info("daemon state changed",
			logging.String("from", previous.String()),
			logging.String("to", ds.Status.String()),
		)
	}
	return ds, nil
}

func (e *Engine) running(ctx context.Context) ([]execution.Runnable, error) {
	running, err := e.backend.Running(ctx)
	e.recorder.SetRunningTasks(e.backend.Name(), len(running))
	if err != nil {
		if execution.Fatal(err) {
			return nil, err
		}
		e.logger.Warn("poll running tasks reported errors",
			logging.Error(err),
			logging.String(logging.FieldEventType, "running_poll_failed"),
		)
	}
	return running, nil
}

// transition CASes the row from ds.Status to to.
func (e *Engine) transition(ctx context.Context, ds lifecycle.DaemonStatus, to lifecycle.Status) error {
	ok, err := e.reg.TransitionDaemonStatus(ctx, e.id, to, ds.Status)
	if err != nil {
		return fmt.Errorf("set daemon status %s: %w", to, err)
	}
	if !ok {
		return errStatusConflict
	}
	e.recorder.IncTransition(ds.Status.String(), to.String())
	e.mu.Lock()
	e.status.Status = to
	e.mu.Unlock()
	e.logger.Debug("daemon status written",
		logging.String("from", ds.Status.String()),
		logging.String("to", to.String()),
	)
	return nil
}

// fail records ERROR after the loop gave up.
func (e *Engine) fail(ctx context.Context, cause error) {
	e.logger.Error("daemon loop failed",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "daemon_loop_failed"),
		logging.String(logging.FieldErrorHint, "inspect the daemon log and task runner deployment"),
	)
	ok, err := e.reg.TransitionDaemonStatus(ctx, e.id, lifecycle.StatusError, lifecycle.Predecessors(lifecycle.StatusError)...)
	if err != nil {
		e.logger.Error("record daemon error status failed", logging.Error(err))
		return
	}
	if ok {
		e.recorder.IncTransition(e.Status().Status.String(), lifecycle.StatusError.String())
		e.mu.Lock()
		e.status.Status = lifecycle.StatusError
		e.mu.Unlock()
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
