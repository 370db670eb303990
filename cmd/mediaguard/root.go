package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	root := &cobra.Command{
		Use:   "mediaguard",
		Short: "Operate the mediaguard moderation pipeline",
		Long: "mediaguard runs the moderation daemon and inspects its record store, " +
			"job lanes and dependencies.",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Every command except the config helpers needs a loaded config.
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
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to config.toml (defaults to the user config directory)")

	root.AddCommand(
		newRunCommand(ctx),
		newStatusCommand(ctx),
		newSubmitCommand(ctx),
		newQueueCommand(ctx),
		newSweepCommand(ctx),
		newTestNotifyCommand(ctx),
		newConfigCommand(ctx),
	)
	return root
}
