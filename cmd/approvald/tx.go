package main

import (
	"context"

	"approval-chain/pkg/banking"
	"approval-chain/pkg/pipeline"
	"approval-chain/pkg/transaction"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type txFlags struct {
	Description string
	Payee       string
	User        int64
	Reason      string
}

// NewTxCmd creates the tx command.
func NewTxCmd(root *rootFlags) *cobra.Command {
	flags := &txFlags{}

	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Create and inspect transactions",
	}
	cmd.PersistentFlags().StringVarP(&flags.Description, "description", "d", "", "transaction description")

	create := func(use, short string, nargs int, run func(ctx context.Context, app *App, args []string, amount decimal.Decimal) (*transaction.Transaction, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := parseAmount(args[len(args)-1])
				if err != nil {
					return err
				}
				return root.withApp(cmd.Context(), func(app *App) error {
					tx, err := run(cmd.Context(), app, args, amount)
					if err != nil {
						return err
					}
					reportOutcome(tx)
					return renderTransaction(tx)
				})
			},
		}
	}

	cmd.AddCommand(create("transfer <from> <to> <amount>", "Transfer between two accounts", 3,
		func(ctx context.Context, app *App, args []string, amount decimal.Decimal) (*transaction.Transaction, error) {
			return app.Transactions.CreateTransfer(ctx, args[0], args[1], amount, flags.Description)
		}))
	cmd.AddCommand(create("withdraw <from> <amount>", "Withdraw from an account", 2,
		func(ctx context.Context, app *App, args []string, amount decimal.Decimal) (*transaction.Transaction, error) {
			return app.Transactions.CreateWithdrawal(ctx, args[0], amount, flags.Description)
		}))
	cmd.AddCommand(create("deposit <to> <amount>", "Deposit into an account", 2,
		func(ctx context.Context, app *App, args []string, amount decimal.Decimal) (*transaction.Transaction, error) {
			return app.Transactions.CreateDeposit(ctx, args[0], amount, flags.Description)
		}))

	pay := create("pay <from> <amount>", "Pay an external payee", 2,
		func(ctx context.Context, app *App, args []string, amount decimal.Decimal) (*transaction.Transaction, error) {
			return app.Transactions.CreatePayment(ctx, args[0], flags.Payee, amount, flags.Description)
		})
	pay.Flags().StringVarP(&flags.Payee, "payee", "p", "", "payee reference")
	_ = pay.MarkFlagRequired("payee")
	cmd.AddCommand(pay)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a transaction with its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return root.withApp(cmd.Context(), func(app *App) error {
				tx, err := app.Transactions.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				return renderTransaction(tx)
			})
		},
	})

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a transaction that has not settled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return root.withApp(cmd.Context(), func(app *App) error {
				tx, err := app.Transactions.Cancel(cmd.Context(), id, flags.User, flags.Reason)
				if err != nil {
					return err
				}
				pterm.Success.Printf("Transaction %s cancelled\n", tx.Reference)
				return nil
			})
		},
	}
	cancel.Flags().Int64VarP(&flags.User, "user", "u", 0, "ID of the cancelling user")
	cancel.Flags().StringVarP(&flags.Reason, "reason", "r", "", "cancellation reason")
	_ = cancel.MarkFlagRequired("user")
	cmd.AddCommand(cancel)

	return cmd
}

func reportOutcome(tx *transaction.Transaction) {
	switch tx.Status {
	case transaction.StatusCompleted:
		pterm.Success.Printf("Transaction %s completed\n", tx.Reference)
	case transaction.StatusPendingApproval:
		pterm.Warning.Printf("Transaction %s awaits manager approval\n", tx.Reference)
	case transaction.StatusFailed:
		if cause := pipeline.Cause(tx); cause != nil {
			pterm.Error.Printf("Transaction %s failed [%s]: %s\n", tx.Reference, banking.ClassifyError(cause), tx.FailureReason)
			return
		}
		pterm.Error.Printf("Transaction %s failed: %s\n", tx.Reference, tx.FailureReason)
	default:
		pterm.Info.Printf("Transaction %s is %s\n", tx.Reference, tx.Status)
	}
}
