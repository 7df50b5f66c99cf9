package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"norc/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RegistryPath = filepath.Join(base, "registry", "norc.db")
	cfgVal.Daemon.Region = "test-region"
	cfgVal.Daemon.PollFrequency = 1
	cfgVal.Daemon.SettleDelay = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRegion overrides the daemon region on the test config.
func WithRegion(region string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.Region = region
	}
}

// WithThreadBackend selects the in-process backend.
func WithThreadBackend() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.Backend = config.BackendThread
	}
}

// WithRunnerScript writes an executable shell script and points the
// config's runner binary at it.
func WithRunnerScript(body string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.RunnerBinary = WriteScript(b.t, b.baseDir, "tmsd-run-task", body)
	}
}

// WriteScript writes an executable /bin/sh script named name under dir and
// returns its path.
func WriteScript(t testing.TB, dir, name, body string) string {
	t.Helper()

	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
