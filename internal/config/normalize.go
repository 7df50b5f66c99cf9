package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDaemon()
	c.normalizeLogging()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("NORC_LOG_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.LogDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("NORC_REGISTRY_PATH"); ok && strings.TrimSpace(value) != "" {
		c.Paths.RegistryPath = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if strings.TrimSpace(c.Paths.RegistryPath) == "" {
		c.Paths.RegistryPath = defaultRegistryPath
	}

	var err error
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.RegistryPath, err = expandPath(c.Paths.RegistryPath); err != nil {
		return fmt.Errorf("paths.registry_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeDaemon() {
	c.Daemon.Region = strings.TrimSpace(c.Daemon.Region)
	c.Daemon.Backend = strings.ToLower(strings.TrimSpace(c.Daemon.Backend))
	switch c.Daemon.Backend {
	case "":
		c.Daemon.Backend = BackendProcess
	case "forking", "fork":
		c.Daemon.Backend = BackendProcess
	case "threads", "threading":
		c.Daemon.Backend = BackendThread
	}
	c.Daemon.RunnerBinary = strings.TrimSpace(c.Daemon.RunnerBinary)
	if c.Daemon.RunnerBinary == "" {
		c.Daemon.RunnerBinary = defaultRunnerBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
