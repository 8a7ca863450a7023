package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/api"
)

func newPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete events older than the configured retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			removed, err := api.PruneEvents(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, map[string]int64{"removed": removed})
			}
			if cfg.Store.EventRetentionDays <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Event retention is disabled; nothing pruned.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s older than %d days.\n",
				plural(removed, "event"), cfg.Store.EventRetentionDays)
			return nil
		},
	}
}
