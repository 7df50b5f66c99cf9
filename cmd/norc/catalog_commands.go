package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"norc/internal/config"
	"norc/internal/registry"
)

func newRegionCommand(ctx *commandContext) *cobra.Command {
	regionCmd := &cobra.Command{
		Use:   "region",
		Short: "Manage resource regions",
	}
	regionCmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Register a resource region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				if err := store.EnsureRegion(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Region %s registered\n", strings.TrimSpace(args[0]))
				return nil
			})
		},
	})
	return regionCmd
}

func newResourceCommand(ctx *commandContext) *cobra.Command {
	resourceCmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage region resource capacities",
	}
	resourceCmd.AddCommand(&cobra.Command{
		Use:   "set REGION NAME CAPACITY",
		Short: "Set the capacity of a resource in a region",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(strings.TrimSpace(args[2]))
			if err != nil {
				return fmt.Errorf("invalid capacity %q", args[2])
			}
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				if err := store.SetResourceCapacity(cmd.Context(), args[0], args[1], capacity); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resource %s in %s set to %d\n", args[1], args[0], capacity)
				return nil
			})
		},
	})
	resourceCmd.AddCommand(&cobra.Command{
		Use:   "list REGION",
		Short: "Show a region's resources and the units in use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				resources, err := store.Resources(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(resources) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No resources defined for %s\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(resources))
				for _, r := range resources {
					rows = append(rows, []string{r.Name, strconv.Itoa(r.Capacity), strconv.Itoa(r.InUse)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{textCol("Resource"), numCol("Capacity"), numCol("In Use")}, rows,
				))
				return nil
			})
		},
	})
	return resourceCmd
}

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskLogCommand(ctx))
	return taskCmd
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var spec registry.TaskSpec
	var demands []string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseDemands(demands)
			if err != nil {
				return err
			}
			spec.Demands = parsed
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				if strings.TrimSpace(spec.LogFile) == "" {
					spec.LogFile = cfg.TaskLogPath(spec.Job, spec.Name)
				}
				task, err := store.CreateTask(cmd.Context(), spec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s added (id %d, log %s)\n", task.Label(), task.ID, task.LogFile)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec.Job, "job", "", "Job the task belongs to")
	cmd.Flags().StringVar(&spec.Name, "name", "", "Task name, unique within the job")
	cmd.Flags().StringVar(&spec.Library, "library", "", "Task library that holds the run logic")
	cmd.Flags().StringVar(&spec.Args, "args", "", "Arguments passed to the task library")
	cmd.Flags().StringVar(&spec.Region, "region", "", "Only run the task in this region")
	cmd.Flags().StringVar(&spec.LogFile, "log-file", "", "Task log file (defaults under the log directory)")
	cmd.Flags().StringArrayVar(&demands, "demand", nil, "Resource demand as resource=units (repeatable)")
	cmd.Flags().StringArrayVar(&spec.DependsOn, "depends-on", nil, "Task in the same job that must succeed first (repeatable)")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("library")
	return cmd
}

func parseDemands(values []string) ([]registry.Demand, error) {
	out := make([]registry.Demand, 0, len(values))
	for _, value := range values {
		name, rawUnits, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid demand %q (want resource=units)", value)
		}
		units, err := strconv.Atoi(strings.TrimSpace(rawUnits))
		if err != nil || units < 0 {
			return nil, fmt.Errorf("invalid units in demand %q", value)
		}
		out = append(out, registry.Demand{Resource: name, Units: units})
	}
	return out, nil
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var (
		job        string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				tasks, err := store.ListTasks(cmd.Context(), strings.TrimSpace(job))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, tasksJSON(tasks))
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks defined")
					return nil
				}
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						task.Job,
						task.Name,
						task.Library,
						task.Region,
						task.LogFile,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{numCol("ID"), textCol("Job"), textCol("Name"), textCol("Library"), textCol("Region"), textCol("Log")}, rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "Only list tasks of this job")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func tasksJSON(tasks []registry.Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		item := map[string]any{
			"id":       task.ID,
			"job":      task.Job,
			"name":     task.Name,
			"library":  task.Library,
			"log_file": task.LogFile,
		}
		if task.Region != "" {
			item["region"] = task.Region
		}
		if task.Args != "" {
			item["args"] = task.Args
		}
		out = append(out, item)
	}
	return out
}

func newIterationCommand(ctx *commandContext) *cobra.Command {
	iterationCmd := &cobra.Command{
		Use:   "iteration",
		Short: "Start and inspect job iterations",
	}
	iterationCmd.AddCommand(&cobra.Command{
		Use:   "start JOB",
		Short: "Start a new iteration over every task of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				it, err := store.StartIteration(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Iteration %d started for job %s\n", it.ID, args[0])
				return nil
			})
		},
	})
	iterationCmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show the task runs of an iteration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "iteration")
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *registry.Store) error {
				it, err := store.Iteration(cmd.Context(), id)
				if err != nil {
					return err
				}
				runs, err := store.ListRuns(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Iteration %d: %s\n", it.ID, it.Status)
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs yet")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]column{numCol("Task"), numCol("Daemon"), textCol("Status"), numCol("Exit"), textCol("Started"), textCol("Message")},
					buildRunRows(runs),
				))
				return nil
			})
		},
	})
	return iterationCmd
}

func buildRunRows(runs []registry.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		exit := ""
		if run.ExitStatus != nil {
			exit = strconv.Itoa(*run.ExitStatus)
		}
		rows = append(rows, []string{
			strconv.FormatInt(run.TaskID, 10),
			strconv.FormatInt(run.DaemonStatusID, 10),
			runStatusLabel(run.Status),
			exit,
			run.StartedAt.Local().Format(time.DateTime),
			run.Message,
		})
	}
	return rows
}
