package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/api"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check store database health and filesystem preflight",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := api.CheckHealth(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			db := report.Database
			fmt.Fprintf(out, "Database path: %s\n", db.DBPath)
			fmt.Fprintf(out, "Database exists: %s\n", yesNo(db.DatabaseExists))
			fmt.Fprintf(out, "Readable: %s\n", yesNo(db.DatabaseReadable))
			if len(db.TablesPresent) > 0 {
				tables := append([]string(nil), db.TablesPresent...)
				sort.Strings(tables)
				fmt.Fprintf(out, "Tables: %s\n", strings.Join(tables, ", "))
			}
			if len(db.MissingTables) > 0 {
				missing := append([]string(nil), db.MissingTables...)
				sort.Strings(missing)
				fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(missing, ", "))
			} else {
				fmt.Fprintln(out, "Missing tables: none")
			}
			fmt.Fprintf(out, "Integrity check: %s\n", yesNo(db.IntegrityCheck))
			fmt.Fprintf(out, "Total runs: %d\n", db.TotalRuns)
			fmt.Fprintf(out, "Total events: %d\n", db.TotalEvents)
			if db.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", db.Error)
			}

			for _, check := range report.Checks {
				fmt.Fprintf(out, "%s: %s (%s)\n", check.Name, checkMark(check.Passed), check.Detail)
			}
			fmt.Fprintf(out, "Healthy: %s\n", yesNo(report.Healthy))
			if !report.Healthy {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}
