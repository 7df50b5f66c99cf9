package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"norc/internal/lifecycle"
	"norc/internal/registry"
)

// ErrTimedOut is returned by run logic that gave up because it ran too long.
var ErrTimedOut = errors.New("task timed out")

// ErrUnknownLibrary means no run logic is registered for a task's library.
var ErrUnknownLibrary = errors.New("unknown task library")

// RunContext is what run logic gets to work with.
type RunContext struct {
	Task         registry.Task
	Iteration    registry.Iteration
	DaemonStatus lifecycle.DaemonStatus
	// Log is the task's log file.
	Log io.Writer
	// Logger writes structured records to the task's log file.
	Logger *slog.Logger
}

// RunFunc is the run logic of a task library. ctx is cancelled when the
// daemon interrupts the task; honoring it is up to the implementation.
type RunFunc func(ctx context.Context, rc RunContext) error

// Handlers maps task libraries to their run logic.
type Handlers struct {
	mu    sync.RWMutex
	funcs map[string]RunFunc
}

// NewHandlers returns an empty registry.
func NewHandlers() *Handlers {
	return &Handlers{funcs: make(map[string]RunFunc)}
}

// Register binds library to fn. Registering a library twice is an error.
func (h *Handlers) Register(library string, fn RunFunc) error {
	library = strings.TrimSpace(library)
	if library == "" {
		return errors.New("library name is required")
	}
	if fn == nil {
		return fmt.Errorf("run func for %s is nil", library)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.funcs[library]; exists {
		return fmt.Errorf("library %s already registered", library)
	}
	h.funcs[library] = fn
	return nil
}

// Lookup returns the run logic for library.
func (h *Handlers) Lookup(library string) (RunFunc, error) {
	h.mu.RLock()
	fn, ok := h.funcs[strings.TrimSpace(library)]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLibrary, library)
	}
	return fn, nil
}

// Names lists the registered libraries in sorted order.
func (h *Handlers) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.funcs))
	for name := range h.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PanicError carries the value a RunFunc panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Invoke runs fn, turning a panic into a *PanicError.
func Invoke(ctx context.Context, fn RunFunc, rc RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, rc)
}

// ClassifyResult maps the result of run logic to a run status.
func ClassifyResult(ctx context.Context, err error) registry.RunStatus {
	var panicErr *PanicError
	switch {
	case err == nil:
		return registry.RunSuccess
	case errors.As(err, &panicErr):
		return registry.RunNoStatus
	case errors.Is(err, ErrUnknownLibrary):
		return registry.RunSkipped
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return registry.RunTimedOut
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		return registry.RunInterrupted
	default:
		return registry.RunError
	}
}
