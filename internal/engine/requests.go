package engine

import (
	"context"
	"fmt"

	"norc/internal/lifecycle"
	"norc/internal/logging"
)

// RequestStop asks the daemon to drain: finish running tasks, admit nothing
// new. It also cuts short the batch in progress. The returned bool is false
// when the current status does not accept a stop request.
func (e *Engine) RequestStop(ctx context.Context) (bool, error) {
	return e.request(ctx, lifecycle.StatusStopRequested, true)
}

// RequestKill asks the daemon to interrupt every running task and end.
func (e *Engine) RequestKill(ctx context.Context) (bool, error) {
	return e.request(ctx, lifecycle.StatusKillRequested, true)
}

// RequestPause suspends admission until RequestResume.
func (e *Engine) RequestPause(ctx context.Context) (bool, error) {
	return e.request(ctx, lifecycle.StatusPauseRequested, true)
}

// RequestResume returns a paused daemon to RUNNING.
func (e *Engine) RequestResume(ctx context.Context) (bool, error) {
	return e.request(ctx, lifecycle.StatusRunning, false)
}

func (e *Engine) request(ctx context.Context, to lifecycle.Status, breakBatch bool) (bool, error) {
	ok, err := e.reg.TransitionDaemonStatus(ctx, e.id, to, lifecycle.Predecessors(to)...)
	if err != nil {
		return false, fmt.Errorf("request %s: %w", to, err)
	}
	if breakBatch && ok {
		e.breakAdmission.Store(true)
	}
	if ok {
		e.logger.Info("daemon state requested", logging.String("to", to.String()))
	} else {
		e.logger.Debug("daemon state request ignored", logging.String("to", to.String()))
	}
	return ok, nil
}
