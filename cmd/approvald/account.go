package main

import (
	"fmt"
	"strconv"
	"strings"

	"approval-chain/pkg/account"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// NewAccountCmd creates the account command.
func NewAccountCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "account",
		Aliases: []string{"acc"},
		Short:   "Manage accounts and account groups (alias: acc)",
	}

	cmd.AddCommand(newAccountOpenCmd(root))
	cmd.AddCommand(newAccountShowCmd(root))
	cmd.AddCommand(newAccountStatusCmd(root))
	cmd.AddCommand(newAccountMinimumCmd(root))
	cmd.AddCommand(newGroupCmd(root))

	return cmd
}

type accountOpenFlags struct {
	Kind    string
	Owner   int64
	Initial string
}

func newAccountOpenCmd(root *rootFlags) *cobra.Command {
	flags := &accountOpenFlags{}

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a leaf account",
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := parseAmount(flags.Initial)
			if err != nil {
				return err
			}
			kind := account.Kind(strings.ToUpper(flags.Kind))

			return root.withApp(cmd.Context(), func(app *App) error {
				a, err := app.Accounts.Open(cmd.Context(), kind, flags.Owner, initial)
				if err != nil {
					return err
				}
				pterm.Success.Printf("Opened account %s\n", a.Number)
				return renderAccount(a)
			})
		},
	}

	cmd.Flags().StringVarP(&flags.Kind, "kind", "k", string(account.KindChecking), "CHECKING, SAVINGS, LOAN, INVESTMENT or BUSINESS")
	cmd.Flags().Int64VarP(&flags.Owner, "owner", "o", 0, "owning customer ID")
	cmd.Flags().StringVarP(&flags.Initial, "initial", "i", "0", "opening balance")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func newAccountShowCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "Show an account or group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), func(app *App) error {
				a, err := app.Accounts.Find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return renderAccount(a)
			})
		},
	}
}

func newAccountStatusCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <number> <status>",
		Short: "Set the status of a leaf account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := account.Status(strings.ToUpper(args[1]))

			return root.withApp(cmd.Context(), func(app *App) error {
				a, err := app.Accounts.SetStatus(cmd.Context(), args[0], status)
				if err != nil {
					return err
				}
				pterm.Success.Printf("Account %s is now %s\n", a.Number, a.Status)
				return nil
			})
		},
	}
}

func newAccountMinimumCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "minimum <number> <amount|none>",
		Short: "Set or clear the minimum balance of a leaf account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var minimum decimal.NullDecimal
			if !strings.EqualFold(args[1], "none") {
				amount, err := parseAmount(args[1])
				if err != nil {
					return err
				}
				minimum = decimal.NewNullDecimal(amount)
			}

			return root.withApp(cmd.Context(), func(app *App) error {
				a, err := app.Accounts.SetMinimumBalance(cmd.Context(), args[0], minimum)
				if err != nil {
					return err
				}
				if !a.MinimumBalance.Valid {
					pterm.Success.Printf("Account %s has no minimum balance\n", a.Number)
					return nil
				}
				pterm.Success.Printf("Account %s minimum balance is %s\n", a.Number, a.MinimumBalance.Decimal.StringFixed(2))
				if a.BelowMinimum() {
					pterm.Warning.Printf("Balance %s is below the minimum\n", a.Balance.StringFixed(2))
				}
				return nil
			})
		},
	}
}

type groupCreateFlags struct {
	Type       string
	Owner      int64
	MaxMembers int
}

func newGroupCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage account groups",
	}

	flags := &groupCreateFlags{}
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an account group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupType := account.GroupType(strings.ToUpper(flags.Type))

			return root.withApp(cmd.Context(), func(app *App) error {
				g, err := app.Groups.CreateGroup(cmd.Context(), args[0], groupType, flags.Owner, flags.MaxMembers)
				if err != nil {
					return err
				}
				pterm.Success.Printf("Created group %s\n", g.Number)
				return nil
			})
		},
	}
	create.Flags().StringVarP(&flags.Type, "type", "t", string(account.GroupFamily), "FAMILY, BUSINESS or JOINT")
	create.Flags().Int64VarP(&flags.Owner, "owner", "o", 0, "owning customer ID")
	create.Flags().IntVarP(&flags.MaxMembers, "max-members", "m", 0, "member cap, 0 for unlimited")
	_ = create.MarkFlagRequired("owner")

	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "add <group> <account>",
		Short: "Add an account to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), func(app *App) error {
				if err := app.Groups.AddMember(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				pterm.Success.Printf("Added %s to %s\n", args[1], args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <group> <account>",
		Short: "Remove an account from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), func(app *App) error {
				if err := app.Groups.RemoveMember(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				pterm.Success.Printf("Removed %s from %s\n", args[1], args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status <group> <status>",
		Short: "Set the status of every member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := account.Status(strings.ToUpper(args[1]))
			return root.withApp(cmd.Context(), func(app *App) error {
				if err := app.Groups.SetMembersStatus(cmd.Context(), args[0], status); err != nil {
					return err
				}
				pterm.Success.Printf("Members of %s are now %s\n", args[0], status)
				return nil
			})
		},
	})

	return cmd
}
