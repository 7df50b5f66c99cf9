package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"norc/internal/config"
	"norc/internal/execution"
	"norc/internal/registry"
	"norc/internal/runner"
	"norc/internal/tasklib"
)

type runnerFlags struct {
	daemonStatusID int64
	iterationID    int64
	taskID         int64
	library        string
	stdout         string
	stderr         string
	debug          bool
	configPath     string
}

func newRootCommand(flags *runnerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tmsd-run-task",
		Short:         "Run one norc task (launched by tmsd)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Hidden:        true,
		RunE:          func(*cobra.Command, []string) error { return nil },
	}
	cmd.Flags().Int64Var(&flags.daemonStatusID, "daemon_status_id", 0, "Daemon status that launched the task")
	cmd.Flags().Int64Var(&flags.iterationID, "iteration_id", 0, "Iteration the task runs in")
	cmd.Flags().StringVar(&flags.library, "task_library", "", "Task library expected for the task")
	cmd.Flags().Int64Var(&flags.taskID, "task_id", 0, "Task to run")
	cmd.Flags().StringVar(&flags.stdout, "stdout", "", "Append output to this file")
	cmd.Flags().StringVar(&flags.stderr, "stderr", "", "Append errors to this file, or STDOUT to share --stdout")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file path")
	for _, name := range []string{"daemon_status_id", "iteration_id", "task_id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// execute parses args, runs the task and returns the exit status. redirect
// controls whether --stdout and --stderr replace the process descriptors.
func execute(ctx context.Context, args []string, redirect bool) int {
	var flags runnerFlags
	cmd := newRootCommand(&flags)
	cmd.SetArgs(args)
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tmsd-run-task: %v\n", err)
		return execution.ExitDidNotRun
	}
	if helpRequested(cmd) {
		return execution.ExitSuccess
	}

	var log io.Writer = os.Stdout
	if redirect {
		out, err := runner.RedirectOutput(flags.stdout, flags.stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tmsd-run-task: %v\n", err)
			return execution.ExitDidNotRun
		}
		log = out
	}

	cfg, _, _, err := config.Load(strings.TrimSpace(flags.configPath))
	if err != nil {
		fmt.Fprintf(log, "tmsd-run-task: load config: %v\n", err)
		return execution.ExitDidNotRun
	}
	store, err := registry.Open(cfg)
	if err != nil {
		fmt.Fprintf(log, "tmsd-run-task: open registry: %v\n", err)
		return execution.ExitDidNotRun
	}
	defer store.Close()

	return runner.Run(ctx, cfg, store, runner.Options{
		DaemonStatusID: flags.daemonStatusID,
		IterationID:    flags.iterationID,
		TaskID:         flags.taskID,
		Library:        flags.library,
		CorrelationID:  os.Getenv("NORC_CORRELATION_ID"),
		Debug:          flags.debug,
		Log:            log,
		Handlers:       tasklib.Default(),
		HandleSignals:  true,
	})
}

func helpRequested(cmd *cobra.Command) bool {
	help, err := cmd.Flags().GetBool("help")
	return err == nil && help
}
