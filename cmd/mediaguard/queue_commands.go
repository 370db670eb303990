package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"mediaguard/internal/jobs"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job lanes",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show backlog counts per lane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stats, err := jobs.Inspect(cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}
			printLaneStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit lane stats as JSON")
	return cmd
}

func printLaneStats(out io.Writer, stats []jobs.LaneStats) {
	headers := []string{"Lane", "Pending", "Active", "Scheduled", "Retry", "Archived", "Processed", "Failed"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		lane := s.Lane
		if s.Paused {
			lane += " (paused)"
		}
		rows = append(rows, []string{
			lane,
			strconv.Itoa(s.Pending),
			strconv.Itoa(s.Active),
			strconv.Itoa(s.Scheduled),
			strconv.Itoa(s.Retry),
			strconv.Itoa(s.Archived),
			strconv.Itoa(s.Processed),
			strconv.Itoa(s.Failed),
		})
	}
	fmt.Fprint(out, renderTable(headers, rows, aligns, nil))
}
