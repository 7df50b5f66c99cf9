package logroute

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"norc/internal/logging"
)

// Handler returns an slog.Handler that formats records with build and writes
// each one to the destination selected by the record's context. A nil build
// falls back to slog's text format.
func (r *Router) Handler(build logging.HandlerFactory) slog.Handler {
	if build == nil {
		build = func(w io.Writer) slog.Handler { return slog.NewTextHandler(w, nil) }
	}
	return &routingHandler{router: r, build: build, cache: newHandlerCache()}
}

type handlerOp struct {
	attrs []slog.Attr
	group string
}

type handlerCache struct {
	mu     sync.Mutex
	byDest map[string]slog.Handler
}

func newHandlerCache() *handlerCache {
	return &handlerCache{byDest: make(map[string]slog.Handler)}
}

type routingHandler struct {
	router *Router
	build  logging.HandlerFactory
	ops    []handlerOp
	cache  *handlerCache
}

func (h *routingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handlerFor(h.router.destination(ctx)).Enabled(ctx, level)
}

func (h *routingHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.handlerFor(h.router.destination(ctx)).Handle(ctx, record)
}

func (h *routingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.derive(handlerOp{attrs: attrs})
}

func (h *routingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(handlerOp{group: name})
}

func (h *routingHandler) derive(op handlerOp) *routingHandler {
	ops := make([]handlerOp, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &routingHandler{
		router: h.router,
		build:  h.build,
		ops:    append(ops, op),
		cache:  newHandlerCache(),
	}
}

func (h *routingHandler) handlerFor(dest string) slog.Handler {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	if handler, ok := h.cache.byDest[dest]; ok {
		return handler
	}
	h.pruneLocked()
	handler := h.build(sink{router: h.router, path: dest})
	for _, op := range h.ops {
		if op.group != "" {
			handler = handler.WithGroup(op.group)
			continue
		}
		handler = handler.WithAttrs(op.attrs)
	}
	h.cache.byDest[dest] = handler
	return handler
}

// pruneLocked drops cached handlers for task logs the router has closed, so
// the cache stays bounded by the open handles. A later record for a pruned
// path rebuilds its handler.
func (h *routingHandler) pruneLocked() {
	daemonLog := h.router.DaemonLogPath()
	for dest := range h.cache.byDest {
		if dest == "" || dest == daemonLog || h.router.isOpen(dest) {
			continue
		}
		delete(h.cache.byDest, dest)
	}
}
