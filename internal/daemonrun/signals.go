package daemonrun

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"norc/internal/logging"
)

// requester is the engine surface the signal handler drives.
type requester interface {
	RequestStop(ctx context.Context) (bool, error)
	RequestKill(ctx context.Context) (bool, error)
}

// handleSignals maps SIGINT to a stop request and SIGTERM to a kill request
// until the returned func is called.
func handleSignals(ctx context.Context, eng requester, logger *slog.Logger) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				dispatchSignal(context.WithoutCancel(ctx), eng, logger, sig)
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
		<-finished
	}
}

func dispatchSignal(ctx context.Context, eng requester, logger *slog.Logger, sig os.Signal) {
	var (
		ok  bool
		err error
	)
	switch sig {
	case syscall.SIGINT:
		logger.Info("interrupt received; requesting stop")
		ok, err = eng.RequestStop(ctx)
	case syscall.SIGTERM:
		logger.Info("terminate received; requesting kill")
		ok, err = eng.RequestKill(ctx)
	default:
		return
	}
	if err != nil {
		logger.Error("lifecycle request failed",
			logging.String("signal", sig.String()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "signal_request_failed"),
		)
		return
	}
	if !ok {
		logger.Debug("lifecycle request not applied", logging.String("signal", sig.String()))
	}
}
