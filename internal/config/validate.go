package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.PollFrequency < 1 {
		return errors.New("daemon.poll_frequency must be at least 1 second")
	}
	switch c.Daemon.Backend {
	case BackendProcess, BackendThread:
	default:
		return fmt.Errorf("daemon.backend: unsupported value %q (want %q or %q)", c.Daemon.Backend, BackendProcess, BackendThread)
	}
	if c.Daemon.SettleDelay < 0 {
		return errors.New("daemon.settle_delay must be non-negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Bind); err != nil {
		return fmt.Errorf("metrics.bind: %w", err)
	}
	return nil
}
