package main

import (
	"github.com/spf13/cobra"
)

const (
	groupCatalog = "catalog"
	groupDaemons = "daemons"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	root := &cobra.Command{
		Use:   "norc",
		Short: "Manage the norc task registry and its daemons",
		Long: `norc edits the task registry that tmsd daemons poll: regions, resource
capacity, tasks and iterations. It also lists daemons and asks them to
stop, pause or resume through their status rows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	root.AddGroup(
		&cobra.Group{ID: groupCatalog, Title: "Registry:"},
		&cobra.Group{ID: groupDaemons, Title: "Daemons:"},
	)
	for _, cmd := range []*cobra.Command{
		newRegionCommand(ctx),
		newResourceCommand(ctx),
		newTaskCommand(ctx),
		newIterationCommand(ctx),
	} {
		cmd.GroupID = groupCatalog
		root.AddCommand(cmd)
	}
	daemon := newDaemonCommand(ctx)
	daemon.GroupID = groupDaemons
	root.AddCommand(daemon, newConfigCommand(ctx))
	return root
}
