package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"norc/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Writer receives the output. When nil, Path is opened for append; with
	// neither set, records go to stderr.
	Writer io.Writer
	Path   string
	// Source adds file:line to every record. Debug level always has it.
	Source bool
}

// HandlerFactory builds a formatting handler bound to one destination.
type HandlerFactory func(w io.Writer) slog.Handler

// NewHandlerFactory validates the format and level in opts and returns a
// factory producing handlers with those settings. Writer and Path are
// ignored.
func NewHandlerFactory(opts Options) (HandlerFactory, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))
	addSource := opts.Source || levelVar.Level() <= slog.LevelDebug

	var build func(io.Writer, *slog.LevelVar, bool) slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		build = newConsoleHandler
	case "json":
		build = newJSONHandler
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	return func(w io.Writer) slog.Handler { return build(w, levelVar, addSource) }, nil
}

// New constructs a logger writing to the destination named by opts.
func New(opts Options) (*slog.Logger, error) {
	factory, err := NewHandlerFactory(opts)
	if err != nil {
		return nil, err
	}
	w, err := destination(opts)
	if err != nil {
		return nil, err
	}
	return slog.New(factory(w)), nil
}

func destination(opts Options) (io.Writer, error) {
	if opts.Writer != nil {
		return opts.Writer, nil
	}
	path := strings.TrimSpace(opts.Path)
	switch path {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log dir for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

// NewFromConfig creates a logger on stderr with the configured level and
// format. Daemon log files are attached later by the output router once the
// daemon status id is known.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}
	return New(OptionsFromConfig(cfg))
}

// OptionsFromConfig maps configuration onto logger options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
