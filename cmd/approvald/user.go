package main

import (
	"fmt"
	"strings"

	"approval-chain/pkg/store"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type userAddFlags struct {
	Username string
	Roles    []string
}

// NewUserCmd creates the user command.
func NewUserCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}
	cmd.AddCommand(newUserAddCmd(root))
	return cmd
}

func newUserAddCmd(root *rootFlags) *cobra.Command {
	flags := &userAddFlags{}

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or replace a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return root.withApp(cmd.Context(), func(app *App) error {
				if app.Users == nil {
					return fmt.Errorf("database driver %s can not store users", app.Config.Database.Driver)
				}
				roles := make([]string, 0, len(flags.Roles))
				for _, r := range flags.Roles {
					roles = append(roles, strings.ToUpper(strings.TrimSpace(r)))
				}
				u := store.User{ID: id, Username: flags.Username, Roles: roles}
				if err := app.Users.SaveUser(cmd.Context(), u); err != nil {
					return err
				}
				pterm.Success.Printf("Saved user %d (%s) with roles %v\n", u.ID, u.Username, u.Roles)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&flags.Username, "username", "u", "", "user name")
	cmd.Flags().StringSliceVarP(&flags.Roles, "role", "r", nil, "role to grant, repeatable (e.g. MANAGER)")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}
