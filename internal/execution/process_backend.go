package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"norc/internal/lifecycle"
	"norc/internal/logging"
	"norc/internal/registry"
)

// BackendProcess and BackendThread name the two execution backends.
const (
	BackendProcess = "process"
	BackendThread  = "thread"
)

// ProcessOptions configures a ProcessBackend.
type ProcessOptions struct {
	Region       string
	RunnerBinary string
	// ConfigPath is forwarded to the runner with --config when set.
	ConfigPath string
	// Env is appended to the daemon's environment for every runner.
	Env         []string
	Debug       bool
	SettleDelay time.Duration
	Store       RunStore
	Logger      *slog.Logger
}

// ProcessBackend runs every task in its own runner process.
type ProcessBackend struct {
	opts   ProcessOptions
	logger *slog.Logger

	mu    sync.Mutex
	tasks []*ProcessTask
}

// NewProcessBackend validates opts and returns a backend with no tasks.
func NewProcessBackend(opts ProcessOptions) (*ProcessBackend, error) {
	if opts.Store == nil {
		return nil, errors.New("process backend requires a run store")
	}
	if strings.TrimSpace(opts.RunnerBinary) == "" {
		return nil, errors.New("process backend requires a runner binary")
	}
	if strings.TrimSpace(opts.Region) == "" {
		return nil, errors.New("process backend requires a region")
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ProcessBackend{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "process-backend").With(logging.String(logging.FieldBackend, BackendProcess)),
	}, nil
}

func (b *ProcessBackend) Name() string       { return BackendProcess }
func (b *ProcessBackend) Label() string      { return "tmsd (forking)" }
func (b *ProcessBackend) Preemptive() bool   { return true }
func (b *ProcessBackend) RunnerPath() string { return b.opts.RunnerBinary }

// Start records the run, which reserves the task's resources, and launches
// the runner. A launch failure finishes the run as an error.
func (b *ProcessBackend) Start(ctx context.Context, task registry.Task, iteration registry.Iteration, ds lifecycle.DaemonStatus) (Runnable, error) {
	if _, err := b.opts.Store.BeginRun(ctx, task, iteration, ds.ID, b.opts.Region); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	t := &ProcessTask{
		backend:       b,
		task:          task,
		iteration:     iteration,
		daemonStatus:  ds,
		correlationID: uuid.NewString(),
	}
	if err := t.Run(ctx); err != nil {
		if _, ferr := b.opts.Store.FinishRun(context.WithoutCancel(ctx), task.ID, iteration.ID, registry.RunError, nil, err.Error()); ferr != nil {
			b.logger.Error("record launch failure", logging.Error(ferr), logging.String(logging.FieldTask, task.Label()))
		}
		return nil, err
	}

	b.mu.Lock()
	b.tasks = append(b.tasks, t)
	b.mu.Unlock()

	b.logger.Debug("runner launched",
		logging.String(logging.FieldTask, task.Label()),
		logging.Int64(logging.FieldIterationID, iteration.ID),
		logging.Int("pid", t.PID()),
		logging.String(logging.FieldCorrelationID, t.correlationID),
	)
	return t, nil
}

// Running polls every tracked runner and returns those still alive. Runners
// that ended are dropped, their exit status logged and, when the runner did
// not record an outcome, written to the run. Exit statuses 126 and 127 are
// returned as fatal errors once all runners have been polled.
func (b *ProcessBackend) Running(ctx context.Context) ([]Runnable, error) {
	b.mu.Lock()
	tracked := append([]*ProcessTask(nil), b.tasks...)
	b.mu.Unlock()

	var (
		alive []*ProcessTask
		out   []Runnable
		fatal []error
	)
	for _, t := range tracked {
		exited, exit, err := t.poll()
		if err != nil {
			b.logger.Warn("runner poll failed",
				logging.Error(err),
				logging.String(logging.FieldTask, t.task.Label()),
				logging.String(logging.FieldEventType, "runner_poll_failed"),
			)
			alive = append(alive, t)
			out = append(out, t)
			continue
		}
		if !exited {
			alive = append(alive, t)
			out = append(out, t)
			continue
		}
		if err := b.finish(ctx, t, exit); err != nil {
			fatal = append(fatal, err)
		}
	}

	b.mu.Lock()
	b.tasks = mergeTracked(alive, tracked, b.tasks)
	b.mu.Unlock()

	return out, errors.Join(fatal...)
}

// mergeTracked keeps the survivors of a poll plus anything started since
// the snapshot was taken.
func mergeTracked(alive, snapshot, current []*ProcessTask) []*ProcessTask {
	seen := make(map[*ProcessTask]struct{}, len(snapshot))
	for _, t := range snapshot {
		seen[t] = struct{}{}
	}
	merged := append([]*ProcessTask(nil), alive...)
	for _, t := range current {
		if _, ok := seen[t]; !ok {
			merged = append(merged, t)
		}
	}
	return merged
}

func (b *ProcessBackend) finish(ctx context.Context, t *ProcessTask, exit procExit) error {
	attrs := []logging.Attr{
		logging.String(logging.FieldTask, t.task.Label()),
		logging.Int64(logging.FieldIterationID, t.iteration.ID),
		logging.Duration("elapsed", time.Since(t.startedAt)),
	}
	var (
		fatal      error
		exitStatus *int
	)
	message := exit.describe()
	switch {
	case exit.signaled():
		attrs = append(attrs, logging.String("signal", unix.SignalName(exit.Signal)))
		b.logger.Warn(message, logging.Args(attrs...)...)
	default:
		status := exit.Status
		exitStatus = &status
		attrs = append(attrs, logging.Int("exit_status", status))
		if fatal = FatalExit(status); fatal != nil {
			b.logger.Error(message, logging.Args(attrs...)...)
		} else {
			b.logger.Info(message, logging.Args(attrs...)...)
		}
	}

	runStatus := exit.runStatus()
	recorded, err := b.opts.Store.FinishRun(context.WithoutCancel(ctx), t.task.ID, t.iteration.ID, runStatus, exitStatus, message)
	if err != nil {
		b.logger.Warn("record runner exit failed", logging.Error(err), logging.String(logging.FieldTask, t.task.Label()))
	} else if recorded {
		b.logger.Debug("runner exit recorded by daemon",
			logging.String(logging.FieldTask, t.task.Label()),
			logging.String(logging.FieldStatus, string(runStatus)),
		)
	}

	if fatal != nil {
		return fmt.Errorf("%s: %w", t.task.Label(), fatal)
	}
	return nil
}
