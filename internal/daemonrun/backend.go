package daemonrun

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"norc/internal/config"
	"norc/internal/engine"
	"norc/internal/execution"
	"norc/internal/logging"
	"norc/internal/logroute"
	"norc/internal/registry"
	"norc/internal/tasklib"
)

func newBackend(cfg *config.Config, opts Options, store *registry.Store, router *logroute.Router, build logging.HandlerFactory, logger *slog.Logger) (engine.Backend, error) {
	if cfg.ThreadBackend() {
		handlers := opts.Handlers
		if handlers == nil {
			handlers = tasklib.Default()
		}
		return execution.NewThreadBackend(execution.ThreadOptions{
			Region:      cfg.Daemon.Region,
			Store:       store,
			Router:      router,
			Handlers:    handlers,
			TaskHandler: build,
			Logger:      logger,
		})
	}
	return execution.NewProcessBackend(execution.ProcessOptions{
		Region:       cfg.Daemon.Region,
		RunnerBinary: resolveRunner(cfg.Daemon.RunnerBinary),
		ConfigPath:   opts.ConfigPath,
		Env:          opts.Env,
		Debug:        opts.Debug,
		SettleDelay:  cfg.SettleDelay(),
		Store:        store,
		Logger:       logger,
	})
}

// resolveRunner prefers a runner installed next to the daemon binary, then
// $PATH. Unresolvable names are returned unchanged so the launch reports
// the deployment error.
func resolveRunner(name string) string {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), name)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}

func newMetricsRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func sanitizeRegion(region string) string {
	return strings.NewReplacer("/", "_", string(os.PathSeparator), "_", "..", "_").Replace(strings.TrimSpace(region))
}
