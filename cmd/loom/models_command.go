package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/api"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List versioned model tables and their row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tables, err := api.ListTables(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, tables)
			}

			out := cmd.OutOrStdout()
			if len(tables) == 0 {
				fmt.Fprintln(out, "No model tables yet.")
				return nil
			}
			rows := make([][]string, 0, len(tables))
			for _, info := range tables {
				rows = append(rows, []string{
					info.Model,
					info.Table,
					formatCount(info.Rows),
					formatCount(info.Entities),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Model", "Table", "Rows", "Entities"},
				rows,
				2, 3,
			))
			return nil
		},
	}
}
