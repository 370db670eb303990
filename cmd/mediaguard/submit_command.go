package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"mediaguard/internal/intake"
	"mediaguard/internal/jobs"
	"mediaguard/internal/uploads"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var userID int64
	var actor string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Accept a local file as an upload and queue it for moderation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer file.Close()

			logger := ctx.commandLogger()
			store, err := uploads.Open(cfg)
			if err != nil {
				return fmt.Errorf("open record store: %w", err)
			}
			defer store.Close()
			client := jobs.NewClient(cfg, logger)
			defer client.Close()

			svc, err := intake.New(intake.Options{
				Store:     store,
				Jobs:      client,
				UploadDir: cfg.Paths.UploadDir,
				FFmpeg:    cfg.FFmpegBinary(),
				FFprobe:   cfg.FFprobeBinary(),
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			req := intake.Request{Actor: actor, ClientIP: "127.0.0.1", Filename: filepath.Base(path), Body: file}
			if userID > 0 {
				req.UserID = &userID
			}
			result, err := svc.Accept(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Upload %d accepted as %s (%s), status %s\n", result.UploadID, result.Name, result.Mime, result.Status)
			if result.JobID != "" {
				fmt.Fprintf(out, "Moderation task: %s\n", result.JobID)
			}
			labels := make([]string, 0, len(result.Variants))
			for label := range result.Variants {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			for _, label := range labels {
				fmt.Fprintf(out, "  %s: %s\n", label, result.Variants[label])
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "Owning user id")
	cmd.Flags().StringVar(&actor, "actor", "cli", "Actor recorded in moderation logs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the intake result as JSON")
	return cmd
}
