package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"mediaguard/internal/config"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/preflight"
	"mediaguard/internal/uploads"
)

type daemonSnapshot struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type statusSnapshot struct {
	Daemon   daemonSnapshot     `json:"daemon"`
	Counts   map[string]int     `json:"counts"`
	Checks   []preflight.Result `json:"checks"`
	Settings []preflight.Result `json:"settings"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, record and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot, err := buildStatusSnapshot(cmd.Context(), ctx, cfg, !skipChecks)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snapshot)
			}
			printStatus(cmd.OutOrStdout(), snapshot, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit status as JSON")
	cmd.Flags().BoolVar(&skipChecks, "no-checks", false, "Skip live service checks")
	return cmd
}

func buildStatusSnapshot(cmdCtx context.Context, ctx *commandContext, cfg *config.Config, live bool) (statusSnapshot, error) {
	snapshot := statusSnapshot{
		Daemon:   probeDaemon(cmdCtx, ctx),
		Counts:   map[string]int{},
		Settings: []preflight.Result{preflight.CheckStorageFromConfig(cfg), preflight.CheckEmailFromConfig(cfg)},
	}

	store, err := uploads.Open(cfg)
	if err != nil {
		return snapshot, fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()
	counts, err := store.CountByStatus(cmdCtx)
	if err != nil {
		return snapshot, fmt.Errorf("count records: %w", err)
	}
	for status, n := range counts {
		snapshot.Counts[string(status)] = n
	}

	if live {
		objects, err := objectstore.New(cmdCtx, cfg.Storage, ctx.commandLogger())
		if err != nil {
			snapshot.Checks = append(snapshot.Checks, preflight.Result{Name: "Object storage", Detail: err.Error()})
			objects = nil
		}
		snapshot.Checks = append(snapshot.Checks, preflight.RunAll(cmdCtx, cfg, objects)...)
	}
	return snapshot, nil
}

func probeDaemon(cmdCtx context.Context, ctx *commandContext) daemonSnapshot {
	body, err := ctx.apiGet(cmdCtx, "/api/status")
	if err != nil {
		return daemonSnapshot{Detail: err.Error()}
	}
	var resp struct {
		Running bool `json:"running"`
		PID     int  `json:"pid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return daemonSnapshot{Detail: fmt.Sprintf("decode daemon status: %v", err)}
	}
	return daemonSnapshot{Running: resp.Running, PID: resp.PID}
}

func printStatus(out io.Writer, s statusSnapshot, colorize bool) {
	renderSectionHeader(out, "Daemon", colorize)
	if s.Daemon.Running {
		fmt.Fprintln(out, renderStatusLine("mediaguard", statusOK, fmt.Sprintf("Running (pid %d)", s.Daemon.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("mediaguard", statusWarn, "Not running: "+s.Daemon.Detail, colorize))
	}
	fmt.Fprintln(out)

	if len(s.Checks) > 0 {
		renderSectionHeader(out, "Services", colorize)
		for _, r := range s.Checks {
			fmt.Fprintln(out, checkLine(r, false, colorize))
		}
		fmt.Fprintln(out)
	}

	renderSectionHeader(out, "Settings", colorize)
	for _, r := range s.Settings {
		fmt.Fprintln(out, checkLine(r, true, colorize))
	}
	fmt.Fprintln(out)

	renderSectionHeader(out, "Uploads", colorize)
	rows, total := countRows(s.Counts)
	if total == 0 {
		fmt.Fprintln(out, "No uploads recorded")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, []string{"Total", strconv.Itoa(total)}))
}

// countRows orders the known statuses first, then any others by name.
func countRows(counts map[string]int) ([][]string, int) {
	known := []string{string(uploads.StatusPending), string(uploads.StatusApproved), string(uploads.StatusRejected)}
	seen := map[string]bool{}
	var rows [][]string
	total := 0
	for _, status := range known {
		seen[status] = true
		if n := counts[status]; n > 0 {
			rows = append(rows, []string{status, strconv.Itoa(n)})
			total += n
		}
	}
	var extra []string
	for status := range counts {
		if !seen[status] {
			extra = append(extra, status)
		}
	}
	sort.Strings(extra)
	for _, status := range extra {
		if n := counts[status]; n > 0 {
			rows = append(rows, []string{status, strconv.Itoa(n)})
			total += n
		}
	}
	return rows, total
}
