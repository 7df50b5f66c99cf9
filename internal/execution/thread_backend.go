package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"norc/internal/lifecycle"
	"norc/internal/logging"
	"norc/internal/logroute"
	"norc/internal/registry"
)

// ThreadOptions configures a ThreadBackend.
type ThreadOptions struct {
	Region   string
	Store    RunStore
	Router   *logroute.Router
	Handlers *Handlers
	// TaskHandler formats the records of each task's logger. Nil uses the
	// router's default.
	TaskHandler logging.HandlerFactory
	Logger      *slog.Logger
}

// ThreadBackend runs task logic on goroutines inside the daemon.
type ThreadBackend struct {
	opts   ThreadOptions
	logger *slog.Logger

	mu    sync.Mutex
	order []*ThreadTask
	wg    sync.WaitGroup
}

// NewThreadBackend validates opts and returns an idle backend.
func NewThreadBackend(opts ThreadOptions) (*ThreadBackend, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("thread backend requires a run store")
	case opts.Router == nil:
		return nil, errors.New("thread backend requires an output router")
	case opts.Handlers == nil:
		return nil, errors.New("thread backend requires task handlers")
	case strings.TrimSpace(opts.Region) == "":
		return nil, errors.New("thread backend requires a region")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ThreadBackend{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "thread-backend").With(logging.String(logging.FieldBackend, BackendThread)),
	}, nil
}

func (b *ThreadBackend) Name() string     { return BackendThread }
func (b *ThreadBackend) Label() string    { return "tmsd (threading)" }
func (b *ThreadBackend) Preemptive() bool { return false }

// Start records the run and spawns the task's goroutine.
func (b *ThreadBackend) Start(ctx context.Context, task registry.Task, iteration registry.Iteration, ds lifecycle.DaemonStatus) (Runnable, error) {
	if _, err := b.opts.Store.BeginRun(ctx, task, iteration, ds.ID, b.opts.Region); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	logWriter := b.opts.Router.TaskWriter(task.LogFile)
	t := &ThreadTask{
		backend:      b,
		task:         task,
		iteration:    iteration,
		daemonStatus: ds,
		log:          logWriter,
		logger:       b.taskLogger(logWriter, task, iteration),
		done:         make(chan struct{}),
	}

	b.mu.Lock()
	b.order = append(b.order, t)
	b.mu.Unlock()

	if err := t.Run(ctx); err != nil {
		b.forget(t)
		if _, ferr := b.opts.Store.FinishRun(context.WithoutCancel(ctx), task.ID, iteration.ID, registry.RunError, nil, err.Error()); ferr != nil {
			b.logger.Error("record launch failure", logging.Error(ferr), logging.String(logging.FieldTask, task.Label()))
		}
		return nil, err
	}
	b.logger.Debug("task goroutine started",
		logging.String(logging.FieldTask, task.Label()),
		logging.Int64(logging.FieldIterationID, iteration.ID),
	)
	return t, nil
}

func (b *ThreadBackend) taskLogger(w io.Writer, task registry.Task, iteration registry.Iteration) *slog.Logger {
	build := b.opts.TaskHandler
	var handler slog.Handler
	if build != nil {
		handler = build(w)
	} else {
		handler = slog.NewTextHandler(w, nil)
	}
	return slog.New(handler).With(logging.Args(logging.TaskAttrs(task.Label(), task.ID, iteration.ID)...)...)
}

// Running returns the tasks whose run logic has not returned, in start order.
func (b *ThreadBackend) Running(context.Context) ([]Runnable, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Runnable, 0, len(b.order))
	for _, t := range b.order {
		if t.IsRunning() {
			out = append(out, t)
		}
	}
	return out, nil
}

// Wait blocks until every spawned goroutine has returned.
func (b *ThreadBackend) Wait() {
	b.wg.Wait()
}

func (b *ThreadBackend) forget(t *ThreadTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range b.order {
		if candidate == t {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}
