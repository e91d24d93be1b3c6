package main

import (
	"github.com/spf13/cobra"
)

// NewSweepCmd creates the sweep command.
func NewSweepCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-process PENDING transactions once",
		Long: `Re-process every PENDING transaction through the approval pipeline.

Transactions whose accounts are locked by another process are skipped and
left for the next sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), func(app *App) error {
				report, err := app.Transactions.ProcessPending(cmd.Context())
				if err != nil {
					return err
				}
				renderSweep(report)
				return nil
			})
		},
	}
}
