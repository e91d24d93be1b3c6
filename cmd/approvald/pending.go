package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// NewPendingCmd creates the pending command.
func NewPendingCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "pending",
		Aliases: []string{"pa"},
		Short:   "List transactions awaiting manager approval (alias: pa)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), func(app *App) error {
				txs, err := app.Transactions.PendingApprovals(cmd.Context())
				if err != nil {
					return err
				}
				if len(txs) == 0 {
					pterm.Info.Println("No transactions awaiting approval")
					return nil
				}
				return renderTransactions("Pending Approval", txs)
			})
		},
	}
}
