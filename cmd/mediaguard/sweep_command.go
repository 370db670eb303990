package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mediaguard/internal/daemonrun"
	"mediaguard/internal/jobs"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var enqueue bool

	cmd := &cobra.Command{
		Use:   "sweep <job>",
		Short: "Run a maintenance job now",
		Long: "Run a maintenance job in this process, or hand it to the daemon's maintenance lane with --enqueue.\n\nJobs: " +
			strings.Join(maintenanceActions(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := maintenanceJobName(args[0])
			if _, ok := knownMaintenance(name); !ok {
				return fmt.Errorf("unknown maintenance job %q (choose one of %s)", args[0], strings.Join(maintenanceActions(), ", "))
			}
			logger := ctx.commandLogger()
			out := cmd.OutOrStdout()

			if enqueue {
				client := jobs.NewClient(cfg, logger)
				defer client.Close()
				id, err := client.SubmitMaintenance(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Queued %s (task %s)\n", name, id)
				return nil
			}

			rt, err := daemonrun.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Pipeline.RunMaintenance(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(out, "Completed %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Submit the job to the running daemon instead of running it here")
	return cmd
}

func maintenanceJobName(arg string) string {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, jobs.LaneMaintenance+":") {
		return arg
	}
	return jobs.LaneMaintenance + ":" + arg
}

func knownMaintenance(name string) (string, bool) {
	for _, task := range jobs.MaintenanceTasks {
		if task == name {
			return jobs.Action(task), true
		}
	}
	return "", false
}

func maintenanceActions() []string {
	actions := make([]string, 0, len(jobs.MaintenanceTasks))
	for _, task := range jobs.MaintenanceTasks {
		actions = append(actions, jobs.Action(task))
	}
	return actions
}
