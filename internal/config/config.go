package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir       string `toml:"log_dir"`
	RegistryPath string `toml:"registry_path"`
}

// Daemon contains configuration for the execution daemon.
type Daemon struct {
	Region            string `toml:"region"`
	PollFrequency     int    `toml:"poll_frequency"`
	Backend           string `toml:"backend"`
	RedirectDaemonLog bool   `toml:"redirect_daemon_log"`
	RunnerBinary      string `toml:"runner_binary"`
	SettleDelay       int    `toml:"settle_delay"`
	SingleInstance    bool   `toml:"single_instance"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Tracing contains configuration for OpenTelemetry span export.
type Tracing struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for norc.
//
// Configuration sections by subsystem:
//   - Paths: log directory and registry database location
//   - Daemon: region, polling, backend selection and runner settings
//   - Logging: log format, level, and retention
//   - Metrics: optional Prometheus listener
//   - Tracing: optional span export
type Config struct {
	Paths   Paths   `toml:"paths"`
	Daemon  Daemon  `toml:"daemon"`
	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
	Tracing Tracing `toml:"tracing"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the configuration at path, or the first of the default
// locations that exists when path is empty. It returns the config with
// defaults and environment overrides applied, the file it chose, and
// whether that file exists. Unknown keys are rejected so typos surface
// instead of silently falling back to defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	cfg := Default()
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	err = toml.NewDecoder(file).DisallowUnknownFields().Decode(cfg)
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		return fmt.Errorf("parse config %s: %s", path, strict.String())
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath expands an explicit path, or walks the default
// candidates: the per-user file, then ./norc.toml.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	userPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("norc.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, projectPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	}
	return !info.IsDir(), nil
}

// EnsureDirectories creates the log directory, the daemon log directory
// beneath it, and the directory holding the registry database.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir, c.DaemonLogDir()}
	if dir := filepath.Dir(c.Paths.RegistryPath); strings.TrimSpace(c.Paths.RegistryPath) != "" && dir != "" {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DaemonLogDir returns the directory that holds per-daemon log files.
func (c *Config) DaemonLogDir() string {
	return filepath.Join(c.Paths.LogDir, daemonLogSubdir)
}

// DaemonLogPath returns the log file for the daemon with the given status id.
func (c *Config) DaemonLogPath(daemonStatusID int64) string {
	return filepath.Join(c.DaemonLogDir(), fmt.Sprintf("tmsd.%d", daemonStatusID))
}

// TaskLogPath returns the default log file for a task of the given job.
func (c *Config) TaskLogPath(job, task string) string {
	return filepath.Join(c.Paths.LogDir, sanitizeSegment(job), sanitizeSegment(task))
}

// PollInterval returns the daemon poll frequency as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Daemon.PollFrequency) * time.Second
}

// SettleDelay returns the pause taken after launching a runner process.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Daemon.SettleDelay) * time.Second
}

// ThreadBackend reports whether the in-process backend is selected.
func (c *Config) ThreadBackend() bool {
	return c.Daemon.Backend == BackendThread
}

func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(value)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath applies the config path rules (leading ~, absolute, cleaned)
// to a path given on the command line.
func ExpandPath(pathValue string) (string, error) { return expandPath(pathValue) }

// CreateSample writes the commented sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
