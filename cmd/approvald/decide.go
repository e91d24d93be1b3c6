package main

import (
	"fmt"
	"strconv"

	"approval-chain/pkg/transaction"

	"github.com/spf13/cobra"
)

type decision string

const (
	decisionApprove decision = "approve"
	decisionReject  decision = "reject"
)

type decideFlags struct {
	Manager  int64
	Reason   string
	Comments string
}

// NewDecideCmd creates the approve or reject command.
func NewDecideCmd(root *rootFlags, d decision) *cobra.Command {
	flags := &decideFlags{}

	cmd := &cobra.Command{
		Use:   string(d) + " <transaction-id>",
		Short: fmt.Sprintf("Manually %s a transaction awaiting approval", d),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid transaction id %q", args[0])
			}

			return root.withApp(cmd.Context(), func(app *App) error {
				var tx *transaction.Transaction
				if d == decisionApprove {
					tx, err = app.Transactions.Approve(cmd.Context(), id, flags.Manager, flags.Comments)
				} else {
					tx, err = app.Transactions.Reject(cmd.Context(), id, flags.Manager, flags.Reason, flags.Comments)
				}
				if err != nil {
					return err
				}

				reportOutcome(tx)
				return renderTransaction(tx)
			})
		},
	}

	cmd.Flags().Int64VarP(&flags.Manager, "manager", "m", 0, "ID of the deciding manager")
	cmd.Flags().StringVarP(&flags.Comments, "comments", "n", "", "comments recorded with the decision")
	if d == decisionReject {
		cmd.Flags().StringVarP(&flags.Reason, "reason", "r", "", "rejection reason")
		_ = cmd.MarkFlagRequired("reason")
	}
	_ = cmd.MarkFlagRequired("manager")

	return cmd
}
