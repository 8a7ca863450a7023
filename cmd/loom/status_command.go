package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show one run with its per-step status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := api.GetStatus(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			run := status.Run

			fmt.Fprintf(out, "Run: %s\n", run.ID)
			fmt.Fprintf(out, "Pipeline: %s\n", run.Pipeline)
			fmt.Fprintf(out, "Status: %s\n", colorizeStatus(run.Status, colorize))
			fmt.Fprintf(out, "Mode: %s (reprocess unchanged: %s)\n", run.IncrementalMode, yesNo(run.ReprocessUnchanged))
			fmt.Fprintf(out, "Started: %s\n", orDash(run.StartedAt))
			fmt.Fprintf(out, "Completed: %s\n", orDash(run.CompletedAt))
			if run.ErrorMessage != "" {
				fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
			}

			if len(status.Steps) == 0 {
				fmt.Fprintln(out, "No steps recorded yet.")
				return nil
			}
			rows := make([][]string, 0, len(status.Steps))
			for _, step := range status.Steps {
				detail := ""
				if len(step.Errors) > 0 {
					detail = step.Errors[0].Message
				}
				rows = append(rows, []string{
					step.Model,
					colorizeStatus(step.Status, colorize),
					formatCount(step.InputCount),
					formatCount(step.OutputCount),
					formatCount(step.DedupCount),
					formatCount(step.ErrorCount),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Model", "Status", "Input", "Written", "Deduped", "Errors", "Detail"},
				rows,
				2, 3, 4, 5,
			))
			return nil
		},
	}
}
