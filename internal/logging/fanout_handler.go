package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// fanoutHandler hands every record to each member that is enabled for its
// level. Members see their own clone of the record.
type fanoutHandler []slog.Handler

func newFanoutHandler(handlers ...slog.Handler) slog.Handler {
	members := slices.DeleteFunc(slices.Clone(handlers), func(h slog.Handler) bool { return h == nil })
	switch len(members) {
	case 0:
		return discard{}
	case 1:
		return members[0]
	}
	return fanoutHandler(members)
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanoutHandler) each(fn func(slog.Handler) slog.Handler) fanoutHandler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = fn(h)
	}
	return next
}

// TeeLogger returns a logger writing to base and to every extra handler.
// A nil base is skipped.
func TeeLogger(base *slog.Logger, extra ...slog.Handler) *slog.Logger {
	var handlers []slog.Handler
	if base != nil {
		handlers = append(handlers, base.Handler())
	}
	return slog.New(newFanoutHandler(append(handlers, extra...)...))
}

// MinLevel wraps h so records below level are dropped.
func MinLevel(h slog.Handler, level slog.Level) slog.Handler {
	return levelFilter{next: h, level: level}
}

type levelFilter struct {
	next  slog.Handler
	level slog.Level
}

func (f levelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= f.level && f.next.Enabled(ctx, level)
}

func (f levelFilter) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < f.level {
		return nil
	}
	return f.next.Handle(ctx, record)
}

func (f levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelFilter{next: f.next.WithAttrs(attrs), level: f.level}
}

func (f levelFilter) WithGroup(name string) slog.Handler {
	return levelFilter{next: f.next.WithGroup(name), level: f.level}
}
