package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"norc/internal/config"
	"norc/internal/daemonrun"
)

type daemonFlags struct {
	region        string
	pollFrequency int
	threads       bool
	noLogRedirect bool
	debug         bool
	configPath    string
}

func newRootCommand(outcome *daemonrun.Outcome) *cobra.Command {
	var flags daemonFlags

	cmd := &cobra.Command{
		Use:           "tmsd",
		Short:         "Run the norc task execution daemon for one region",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgPath, err := loadDaemonConfig(flags, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			result, err := daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				ConfigPath: cfgPath,
				Debug:      flags.debug,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
			*outcome = result
			return err
		},
	}

	cmd.Flags().StringVar(&flags.region, "region", "", "Resource region to admit tasks for")
	cmd.Flags().IntVar(&flags.pollFrequency, "poll-frequency", 3, "Seconds between registry polls (at least 1)")
	cmd.Flags().BoolVar(&flags.threads, "threads", false, "Run tasks in-process instead of forking tmsd-run-task")
	cmd.Flags().BoolVar(&flags.noLogRedirect, "no-log-redirect", false, "Keep daemon output on stdout instead of its log file")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging for the daemon and its runners")
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file path")
	return cmd
}

// loadDaemonConfig reads the config file and lays the command-line flags
// over it. changed reports whether a flag was given explicitly.
func loadDaemonConfig(flags daemonFlags, changed func(string) bool) (*config.Config, string, error) {
	cfg, path, exists, err := config.Load(strings.TrimSpace(flags.configPath))
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if !exists {
		path = ""
	}

	if changed("region") {
		cfg.Daemon.Region = strings.TrimSpace(flags.region)
	}
	if changed("poll-frequency") {
		if flags.pollFrequency < 1 {
			return nil, "", fmt.Errorf("--poll-frequency must be at least 1, got %d", flags.pollFrequency)
		}
		cfg.Daemon.PollFrequency = flags.pollFrequency
	}
	if flags.threads {
		cfg.Daemon.Backend = config.BackendThread
	}
	if flags.noLogRedirect {
		cfg.Daemon.RedirectDaemonLog = false
	}
	if flags.debug {
		cfg.Logging.Level = "debug"
	}
	if cfg.Daemon.Region == "" {
		return nil, "", errors.New("a region is required: pass --region or set daemon.region")
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// execute runs the command line and returns how the daemon ended.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) (daemonrun.Outcome, error) {
	var outcome daemonrun.Outcome
	cmd := newRootCommand(&outcome)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	return outcome, err
}

// exitStatus maps a finished run onto the daemon's exit contract. Once a
// daemon status exists every non-graceful end, errors included, exits like
// a kill; failures before that exit 1.
func exitStatus(outcome daemonrun.Outcome, err error, stderr io.Writer) (code int, selfKill bool) {
	if err != nil {
		fmt.Fprintln(stderr, err)
		if outcome.DaemonStatusID == 0 {
			return 1, false
		}
	}
	return outcome.ExitCode(), outcome.NeedsSelfKill()
}
