package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"norc/internal/config"
	"norc/internal/logtail"
	"norc/internal/registry"
)

type logFlags struct {
	lines  int
	follow bool
}

func (f *logFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&f.follow, "follow", "f", false, "Keep printing lines as they are written")
}

func newTaskLogCommand(ctx *commandContext) *cobra.Command {
	var flags logFlags
	cmd := &cobra.Command{
		Use:   "log ID",
		Short: "Show a task's log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task")
			if err != nil {
				return err
			}
			var path string
			if err := ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				task, err := store.Task(cmd.Context(), id)
				if err != nil {
					return err
				}
				path = task.LogFile
				return nil
			}); err != nil {
				return err
			}
			return printLog(cmd, path, flags)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newDaemonLogCommand(ctx *commandContext) *cobra.Command {
	var flags logFlags
	cmd := &cobra.Command{
		Use:   "log ID",
		Short: "Show the log file of a daemon run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "daemon status")
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return printLog(cmd, cfg.DaemonLogPath(id), flags)
		},
	}
	flags.bind(cmd)
	return cmd
}

func printLog(cmd *cobra.Command, path string, flags logFlags) error {
	out := cmd.OutOrStdout()
	lines, offset, err := logtail.Last(path, flags.lines)
	if err != nil {
		return err
	}
	if len(lines) == 0 && !flags.follow {
		fmt.Fprintf(out, "No output in %s\n", path)
		return nil
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if !flags.follow {
		return nil
	}

	followCtx, stop := signal.NotifyContext(commandContextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return logtail.Follow(followCtx, path, offset, logtail.DefaultPollInterval, func(line string) {
		fmt.Fprintln(out, line)
	})
}

func commandContextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
