package main

import (
	"database/sql"
	"fmt"

	"approval-chain/pkg/config"
	"approval-chain/pkg/store/sqlstore"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command with its up and down subcommands.
func NewMigrateCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, root, sqlstore.MigrateUp, "Database schema is up to date")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert every applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, root, sqlstore.MigrateDown, "Database schema reverted")
		},
	})

	return cmd
}

func runMigration(cmd *cobra.Command, root *rootFlags, migrate func(*sql.DB, sqlstore.Dialect) error, done string) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if cfg.Database.Driver == config.DriverMemory {
		return fmt.Errorf("the memory driver has no schema to migrate")
	}

	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := sqlstore.Connect(cmd.Context(), dialect, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(db, dialect); err != nil {
		return err
	}
	pterm.Success.Println(done)
	return nil
}
