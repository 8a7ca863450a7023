package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/runstore"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var statuses []runstore.RunStatus
			if statusFlag != "" {
				for _, raw := range strings.Split(statusFlag, ",") {
					status, ok := runstore.ParseRunStatus(raw)
					if !ok {
						return fmt.Errorf("unknown run status %q", raw)
					}
					statuses = append(statuses, status)
				}
			}

			runs, err := api.ListRuns(cmd.Context(), cfg, statuses...)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, runs)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.ID),
					run.Pipeline,
					colorizeStatus(run.Status, colorize),
					run.IncrementalMode,
					orDash(run.StartedAt),
					orDash(run.CompletedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Pipeline", "Status", "Mode", "Started", "Completed"},
				rows,
			))

			stats, err := api.RunStats(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by comma-separated run statuses")
	cmd.AddCommand(newRunsClearCommand(ctx))
	return cmd
}

func newRunsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete finished runs and their step logs and events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			removed, err := api.ClearRuns(cmd.Context(), cfg,
				runstore.RunCompleted, runstore.RunFailed, runstore.RunCanceled)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, map[string]int64{"removed": removed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", plural(removed, "run"))
			return nil
		},
	}
}

func renderStats(stats map[string]int) string {
	if len(stats) == 0 {
		return "Totals: none"
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", statusLabel(key), stats[key]))
	}
	return "Totals: " + strings.Join(parts, ", ")
}
