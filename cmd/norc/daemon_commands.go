package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"norc/internal/config"
	"norc/internal/lifecycle"
	"norc/internal/registry"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect daemon runs and send them lifecycle requests",
	}

	daemonCmd.AddCommand(newDaemonListCommand(ctx))
	daemonCmd.AddCommand(newDaemonLogCommand(ctx))
	daemonCmd.AddCommand(newDaemonRequestCommand(ctx, "stop", "Ask a daemon to finish running tasks and end", lifecycle.StatusStopRequested))
	daemonCmd.AddCommand(newDaemonRequestCommand(ctx, "kill", "Ask a daemon to interrupt its tasks and end", lifecycle.StatusKillRequested))
	daemonCmd.AddCommand(newDaemonRequestCommand(ctx, "pause", "Ask a daemon to stop admitting tasks", lifecycle.StatusPauseRequested))
	daemonCmd.AddCommand(newDaemonRequestCommand(ctx, "resume", "Return a paused daemon to running", lifecycle.StatusRunning))

	return daemonCmd
}

func newDaemonListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List daemon runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]lifecycle.Status, 0, len(statusFilters))
			for _, value := range statusFilters {
				status, err := lifecycle.ParseStatus(value)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				runs, err := store.ListDaemonStatuses(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, daemonStatusesJSON(runs))
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No daemon runs recorded")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{numCol("ID"), textCol("Region"), textCol("Status"), textCol("Host"), numCol("PID"), textCol("Started"), textCol("Ended")},
					buildDaemonRows(runs, colorize),
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Only show runs in these statuses (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func buildDaemonRows(runs []lifecycle.DaemonStatus, colorize bool) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, ds := range runs {
		ended := ""
		if ds.EndedAt != nil {
			ended = ds.EndedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			strconv.FormatInt(ds.ID, 10),
			ds.Region,
			renderStatus(ds.Status, colorize),
			ds.Host,
			strconv.Itoa(ds.PID),
			ds.CreatedAt.Local().Format(time.DateTime),
			ended,
		})
	}
	return rows
}

func daemonStatusesJSON(runs []lifecycle.DaemonStatus) []map[string]any {
	out := make([]map[string]any, 0, len(runs))
	for _, ds := range runs {
		item := map[string]any{
			"id":         ds.ID,
			"region":     ds.Region,
			"status":     ds.Status.String(),
			"host":       ds.Host,
			"pid":        ds.PID,
			"run_id":     ds.RunID,
			"created_at": ds.CreatedAt.UTC().Format(time.RFC3339),
		}
		if ds.EndedAt != nil {
			item["ended_at"] = ds.EndedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, item)
	}
	return out
}

// newDaemonRequestCommand builds a command that moves a daemon run to target
// when its current status allows it. The daemon acts on it at its next poll.
func newDaemonRequestCommand(ctx *commandContext, verb, short string, target lifecycle.Status) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "daemon status")
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				applied, err := store.TransitionDaemonStatus(cmd.Context(), id, target, requestSources(target)...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if applied {
					fmt.Fprintf(out, "Daemon %d: %s\n", id, statusLabel(target))
					return nil
				}
				current, err := store.DaemonStatus(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Daemon %d is %s; %s request not applied\n", id, statusLabel(current.Status), verb)
				return nil
			})
		},
	}
}

// requestSources lists the statuses an operator request may replace. Resume
// only lifts a pause; a daemon that is stopping stays stopping.
func requestSources(target lifecycle.Status) []lifecycle.Status {
	if target == lifecycle.StatusRunning {
		return []lifecycle.Status{lifecycle.StatusPauseRequested, lifecycle.StatusPaused}
	}
	return lifecycle.Predecessors(target)
}

func parseID(value, kind string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, value)
	}
	return id, nil
}
