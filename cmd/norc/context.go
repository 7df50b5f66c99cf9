package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"norc/internal/config"
	"norc/internal/registry"
)

// commandContext loads the configuration once per invocation and hands it
// to subcommands.
type commandContext struct {
	configFlag *string

	once       sync.Once
	cfg        *config.Config
	configPath string
	err        error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		c.cfg, c.configPath, c.err = loadCLIConfig(c.configFlag)
	})
	return c.cfg, c.err
}

// loadCLIConfig returns the config and the file it came from, or "" when
// only defaults applied.
func loadCLIConfig(flag *string) (*config.Config, string, error) {
	var path string
	if flag != nil {
		path = strings.TrimSpace(*flag)
	}
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, "", err
	}
	if !exists {
		resolved = ""
	}
	return cfg, resolved, nil
}

// withStore opens the registry for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *registry.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := registry.Open(cfg)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
