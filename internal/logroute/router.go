package logroute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Options configures a Router.
type Options struct {
	// DaemonLogPath receives output that belongs to no task unit. Empty
	// sends it to Stdout instead.
	DaemonLogPath string
	// Stdout is the process's original standard output. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr receives routing diagnostics. Defaults to os.Stderr.
	Stderr io.Writer
}

// Router owns the open log handles for the daemon and its task units.
type Router struct {
	mu      sync.Mutex
	handles map[string]*os.File

	daemonLog string
	stdout    io.Writer
	stderr    io.Writer
}

// New constructs a router. No file is opened until the first write.
func New(opts Options) *Router {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	daemonLog := strings.TrimSpace(opts.DaemonLogPath)
	if daemonLog != "" {
		daemonLog = filepath.Clean(daemonLog)
	}
	return &Router{
		handles:   make(map[string]*os.File),
		daemonLog: daemonLog,
		stdout:    stdout,
		stderr:    stderr,
	}
}

type unitKey struct{}

// WithUnit tags ctx as belonging to the task unit whose output goes to logFile.
func WithUnit(ctx context.Context, logFile string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, unitKey{}, filepath.Clean(logFile))
}

// UnitFromContext returns the task log file of the unit ctx belongs to.
func UnitFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	path, ok := ctx.Value(unitKey{}).(string)
	return path, ok && path != "" && path != "."
}

// DaemonLogPath returns the configured daemon log, or "" when daemon output
// goes to stdout.
func (r *Router) DaemonLogPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.daemonLog
}

// SetDaemonLogPath redirects daemon output to path from the next write on.
// The previous daemon log handle, if any, is closed.
func (r *Router) SetDaemonLogPath(path string) {
	path = strings.TrimSpace(path)
	if path != "" {
		path = filepath.Clean(path)
	}
	r.mu.Lock()
	old := r.daemonLog
	r.daemonLog = path
	f, open := r.handles[old]
	if open && old != path {
		delete(r.handles, old)
	}
	r.mu.Unlock()
	if open && old != path {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			r.diagnose(old, err)
		}
	}
}

// Write routes p by the unit identity on ctx. It always reports len(p), nil.
func (r *Router) Write(ctx context.Context, p []byte) (int, error) {
	path, ok := UnitFromContext(ctx)
	r.writeTo(path, !ok, p)
	return len(p), nil
}

// TaskWriter returns a writer bound to one task log file.
func (r *Router) TaskWriter(logFile string) io.Writer {
	if strings.TrimSpace(logFile) == "" {
		return r.DaemonWriter()
	}
	return sink{router: r, path: filepath.Clean(logFile)}
}

// DaemonWriter returns a writer for daemon output. It follows later
// SetDaemonLogPath calls.
func (r *Router) DaemonWriter() io.Writer {
	return sink{router: r, daemon: true}
}

// CloseLog closes the handle for path if one is open. Closing an unknown or
// already closed path is not an error; a later write reopens it.
func (r *Router) CloseLog(path string) error {
	path = filepath.Clean(path)
	r.mu.Lock()
	f, ok := r.handles[path]
	delete(r.handles, path)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// CloseAll closes every open handle.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*os.File)
	r.mu.Unlock()

	var errs []error
	for path, f := range handles {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// OpenHandles reports how many log files are currently open.
func (r *Router) OpenHandles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Router) isOpen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[path]
	return ok
}

func (r *Router) destination(ctx context.Context) string {
	if path, ok := UnitFromContext(ctx); ok {
		return path
	}
	return r.DaemonLogPath()
}

// writeTo appends p to path, to the daemon log when daemon is set, or to
// stdout when neither names a file. The router lock is held across the
// write so lines from concurrent units never interleave within one file.
func (r *Router) writeTo(path string, daemon bool, p []byte) {
	r.mu.Lock()
	if daemon {
		path = r.daemonLog
	}
	if path == "" {
		_, err := r.stdout.Write(p)
		r.mu.Unlock()
		if err != nil {
			r.diagnose("stdout", err)
		}
		return
	}

	f, err := r.handleLocked(path)
	if err == nil {
		if _, err = f.Write(p); err != nil {
			delete(r.handles, path)
			_ = f.Close()
		}
	}
	r.mu.Unlock()
	if err != nil {
		r.diagnose(path, err)
	}
}

func (r *Router) handleLocked(path string) (*os.File, error) {
	if f, ok := r.handles[path]; ok {
		return f, nil
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	r.handles[path] = f
	return f, nil
}

func (r *Router) diagnose(path string, err error) {
	_, _ = fmt.Fprintf(r.stderr, "logroute: write to %s failed: %v\n", path, err)
}

type sink struct {
	router *Router
	path   string
	daemon bool
}

func (s sink) Write(p []byte) (int, error) {
	s.router.writeTo(s.path, s.daemon, p)
	return len(p), nil
}
