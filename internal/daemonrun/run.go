package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"norc/internal/config"
	"norc/internal/engine"
	"norc/internal/execution"
	"norc/internal/logging"
	"norc/internal/logroute"
	"norc/internal/metrics"
	"norc/internal/registry"
	"norc/internal/tracing"
)

// ExitKilled is the exit status of a process-backend daemon that did not
// end gracefully.
const ExitKilled = 137

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath is forwarded to runner processes.
	ConfigPath string
	Debug      bool
	// Handlers holds the task libraries of the thread backend. Nil uses the
	// built-in libraries.
	Handlers *execution.Handlers
	// Env is added to every runner process environment.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Outcome describes how a daemon run ended.
type Outcome struct {
	DaemonStatusID int64
	Backend        string
	Graceful       bool
}

// ExitCode is the process exit status for the outcome.
func (o Outcome) ExitCode() int {
	if o.Graceful {
		return 0
	}
	return ExitKilled
}

// NeedsSelfKill reports whether the host process must be killed because
// in-process tasks may still be running.
func (o Outcome) NeedsSelfKill() bool {
	return !o.Graceful && o.Backend == execution.BackendThread
}

// Run starts the tmsd runtime loop and blocks until the engine reaches a
// terminal status.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Outcome, error) {
	if cfg == nil {
		return Outcome{}, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return Outcome{}, err
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	build, err := logging.NewHandlerFactory(loggerOptions(cfg, opts.Debug))
	if err != nil {
		return Outcome{}, fmt.Errorf("init logger: %w", err)
	}
	bootLogger := logging.NewComponentLogger(slog.New(build(stderr)), "tmsd")
	logging.CleanupOldLogs(bootLogger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.DaemonLogDir(), Pattern: "tmsd.*"},
		logging.RetentionTarget{Dir: cfg.DaemonLogDir(), Pattern: "traces.*.jsonl"},
	)

	lock, err := acquireInstanceLock(cfg)
	if err != nil {
		return Outcome{}, err
	}
	defer lock.Release(bootLogger)

	pidPath := filepath.Join(cfg.DaemonLogDir(), "tmsd-"+sanitizeRegion(cfg.Daemon.Region)+".pid")
	if err := writePIDFile(pidPath); err != nil {
		return Outcome{}, fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := registry.Open(cfg)
	if err != nil {
		bootLogger.Error("open registry", logging.Error(err))
		return Outcome{}, err
	}
	defer store.Close()
	if _, err := store.Region(ctx, cfg.Daemon.Region); err != nil {
		return Outcome{}, fmt.Errorf("region %q: %w", cfg.Daemon.Region, err)
	}

	router := logroute.New(logroute.Options{Stdout: stdout, Stderr: stderr})
	daemonLogger := slog.New(router.Handler(build))

	recorder, stopMetrics, err := startMetrics(cfg, bootLogger)
	if err != nil {
		return Outcome{}, err
	}
	defer stopMetrics()

	backend, err := newBackend(cfg, opts, store, router, build, daemonLogger)
	if err != nil {
		return Outcome{}, err
	}
	eng, err := engine.New(ctx, store, backend, daemonLogger, engine.Options{
		Region:       cfg.Daemon.Region,
		PollInterval: cfg.PollInterval(),
		Recorder:     recorder,
	})
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{DaemonStatusID: eng.DaemonStatusID(), Backend: backend.Name()}

	logger := logging.NewComponentLogger(daemonLogger, "tmsd").With(
		logging.Int64(logging.FieldDaemonStatusID, eng.DaemonStatusID()),
	)
	if cfg.Daemon.RedirectDaemonLog {
		router.SetDaemonLogPath(cfg.DaemonLogPath(eng.DaemonStatusID()))
		bootLogger.Info("daemon output redirected", logging.String("daemon_log", router.DaemonLogPath()))
		// Lifecycle warnings keep reaching the terminal after the redirect.
		logger = logging.TeeLogger(logger, logging.MinLevel(bootLogger.Handler(), slog.LevelWarn))
	}
	restore := router.Install(logger)
	defer restore()

	if cfg.Tracing.Enabled {
		tracePath := filepath.Join(cfg.DaemonLogDir(), "traces."+strconv.FormatInt(eng.DaemonStatusID(), 10)+".jsonl")
		provider, err := tracing.Setup(tracePath, "tmsd",
			attribute.String("norc.region", cfg.Daemon.Region),
			attribute.Int64("norc.daemon_status_id", eng.DaemonStatusID()),
		)
		if err != nil {
			logger.Warn("tracing disabled",
				logging.Error(err),
				logging.String(logging.FieldEventType, "tracing_setup_failed"),
				logging.String(logging.FieldImpact, "admission spans will not be exported"),
			)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					logger.Warn("flush traces failed", logging.Error(err))
				}
			}()
		}
	}

	stopSignals := handleSignals(ctx, eng, logger)
	defer stopSignals()

	status := eng.Status()
	startAttrs := []logging.Attr{
		logging.String("daemon", backend.Label()),
		logging.String(logging.FieldRegion, cfg.Daemon.Region),
		logging.String(logging.FieldStatus, status.Status.String()),
		logging.String("run_id", status.RunID),
		logging.Duration("poll_interval", cfg.PollInterval()),
	}
	if pb, ok := backend.(*execution.ProcessBackend); ok {
		startAttrs = append(startAttrs, logging.String("runner", pb.RunnerPath()))
	}
	logger.Info("daemon starting", logging.Args(startAttrs...)...)

	graceful, err := eng.Run(ctx)
	outcome.Graceful = graceful && err == nil
	final := eng.Status()
	if err != nil {
		logger.Error("daemon ended with error", logging.Error(err), logging.String(logging.FieldStatus, final.Status.String()))
		return outcome, err
	}
	logger.Info("daemon ended",
		logging.String(logging.FieldStatus, final.Status.String()),
		logging.Bool("graceful", outcome.Graceful),
	)
	return outcome, nil
}

func loggerOptions(cfg *config.Config, debug bool) logging.Options {
	opts := logging.OptionsFromConfig(cfg)
	if debug {
		opts.Level = "debug"
	}
	return opts
}

func startMetrics(cfg *config.Config, logger *slog.Logger) (metrics.Recorder, func(), error) {
	if cfg.Metrics.Bind == "" {
		return metrics.NoopRecorder{}, func() {}, nil
	}
	reg := newMetricsRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)
	srv, err := metrics.Serve(cfg.Metrics.Bind, reg, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("metrics listening", logging.String("bind", srv.Addr()))
	return recorder, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
