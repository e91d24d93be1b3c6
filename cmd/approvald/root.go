package main

import (
	"context"
	"os"
	"strings"
	"unicode"

	"approval-chain/pkg/config"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	ConfigFile string
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " ERROR ",
		Style: pterm.NewStyle(pterm.BgLightRed, pterm.FgBlack),
	}

	if err := NewRootCmd().Execute(); err != nil {
		pterm.Error.Println(capitalize(err.Error()))
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "approvald",
		Short: "approvald runs the banking transaction approval service",
		Long: `approvald runs the banking transaction approval service.

Configuration is read from approvald.yaml in the working directory or
/etc/approvald, and every key can be overridden with a BANK_ prefixed
environment variable, e.g. BANK_DATABASE_DRIVER=sqlite.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "", "set the config file path")

	rootCmd.AddCommand(NewServeCmd(flags))
	rootCmd.AddCommand(NewMigrateCmd(flags))
	rootCmd.AddCommand(NewSweepCmd(flags))
	rootCmd.AddCommand(NewPendingCmd(flags))
	rootCmd.AddCommand(NewDecideCmd(flags, decisionApprove))
	rootCmd.AddCommand(NewDecideCmd(flags, decisionReject))
	rootCmd.AddCommand(NewTxCmd(flags))
	rootCmd.AddCommand(NewAccountCmd(flags))
	rootCmd.AddCommand(NewUserCmd(flags))

	return rootCmd
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(f.ConfigFile)
}

// withApp loads the configuration, wires the application and runs fn.
func (f *rootFlags) withApp(ctx context.Context, fn func(app *App) error) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}

	app, cleanup, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(app)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return strings.TrimSpace(string(r))
}
