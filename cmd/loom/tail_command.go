package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/runstore"
)

const tailPageSize = 200

func newTailCommand(ctx *commandContext) *cobra.Command {
	var sinceFlag int64
	var followFlag bool
	var intervalFlag time.Duration

	cmd := &cobra.Command{
		Use:   "tail <run-id>",
		Short: "Print a run's ordered event log",
		Long: "Print a run's events in their global append order. With --follow the " +
			"command polls the cursor until the run reaches a terminal status.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runID := args[0]
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			cursor := sinceFlag

			for {
				page, err := api.TailEvents(cmd.Context(), cfg, runID, cursor, tailPageSize)
				if err != nil {
					return err
				}
				for _, event := range page.Events {
					if ctx.jsonMode() {
						if err := writeJSON(cmd, event); err != nil {
							return err
						}
						continue
					}
					model := orDash(event.Model)
					message := event.Message
					if event.Total > 0 {
						message = fmt.Sprintf("%d/%d %s", event.Current, event.Total, message)
					}
					fmt.Fprintf(out, "%6d  %-24s %-20s %s\n",
						event.ID, model, colorizeStatus(event.Status, colorize), message)
				}
				cursor = page.NextID

				if !followFlag {
					return nil
				}
				// A full page means more events are already waiting.
				if len(page.Events) == tailPageSize {
					continue
				}
				status, err := api.GetStatus(cmd.Context(), cfg, runID)
				if err != nil {
					return err
				}
				if runstore.RunStatus(status.Run.Status).IsTerminal() {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(intervalFlag):
				}
			}
		},
	}

	cmd.Flags().Int64Var(&sinceFlag, "since", 0, "Start after this event id")
	cmd.Flags().BoolVarP(&followFlag, "follow", "f", false, "Poll for new events until the run finishes")
	cmd.Flags().DurationVar(&intervalFlag, "interval", 2*time.Second, "Polling interval with --follow")
	return cmd
}
