package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"approval-chain/pkg/account"
	"approval-chain/pkg/config"
	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "error"
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "approvald.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(args ...string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestNewApp_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Users = []config.UserConfig{{ID: 100, Username: "alice", Roles: []string{store.RoleManager}}}

	app, cleanup, err := NewApp(ctx, cfg)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, app.Registry)
	require.NotNil(t, app.Users)

	u, err := app.Store.FindUser(ctx, 100)
	require.NoError(t, err)
	assert.True(t, u.HasRole(store.RoleManager))

	from, err := app.Accounts.Open(ctx, account.KindChecking, 1, decimal.NewFromInt(500))
	require.NoError(t, err)
	to, err := app.Accounts.Open(ctx, account.KindChecking, 2, decimal.Zero)
	require.NoError(t, err)

	tx, err := app.Transactions.CreateTransfer(ctx, from.Number, to.Number, decimal.NewFromInt(200), "rent")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCompleted, tx.Status)

	families, err := app.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "approval_transactions_total")
}

func TestNewApp_MetricsDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.Metrics.Enabled = false

	app, cleanup, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, app.Registry)
}

func TestRootCmd_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bank.db")
	path := writeConfig(t, `
log:
  level: error
metrics:
  enabled: false
database:
  driver: sqlite
  dsn: `+dsn+`
`)

	require.NoError(t, run("--config", path, "migrate", "up"))
	require.NoError(t, run("--config", path, "user", "add", "100", "--username", "alice", "--role", "manager"))
	require.NoError(t, run("--config", path, "account", "open", "--owner", "1", "--initial", "250"))
	require.NoError(t, run("--config", path, "pending"))
	require.NoError(t, run("--config", path, "sweep"))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	app, cleanup, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	u, err := app.Store.FindUser(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, []string{store.RoleManager}, u.Roles)

	err = run("--config", path, "approve", "999", "--manager", "100")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err), "got %v", err)
}

func TestNewApp_SharedSQLiteSeesOtherWriters(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Metrics.Enabled = false
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "shared.db")
	cfg.Database.GuardExpectedItems = 1000

	first, cleanupFirst, err := NewApp(ctx, cfg)
	require.NoError(t, err)
	defer cleanupFirst()

	second, cleanupSecond, err := NewApp(ctx, cfg)
	require.NoError(t, err)
	defer cleanupSecond()

	opened, err := second.Accounts.Open(ctx, account.KindChecking, 1, decimal.NewFromInt(75))
	require.NoError(t, err)

	found, err := first.Accounts.Find(ctx, opened.Number)
	require.NoError(t, err, "an account opened by another process must be visible")
	assert.True(t, found.Balance.Equal(decimal.NewFromInt(75)))
}

func TestRootCmd_Errors(t *testing.T) {
	memory := writeConfig(t, "log:\n  level: error\nmetrics:\n  enabled: false\n")

	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"migrate memory", []string{"--config", memory, "migrate", "up"}, "memory driver"},
		{"bad transaction id", []string{"--config", memory, "tx", "show", "abc"}, "invalid id"},
		{"bad amount", []string{"--config", memory, "tx", "deposit", "CHK-1", "lots"}, "invalid amount"},
		{"missing manager flag", []string{"--config", memory, "approve", "1"}, "manager"},
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "pending"}, "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args...)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantMsg), "got %v", err)
		})
	}
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "", capitalize(""))
	assert.Equal(t, "Failed to read", capitalize("failed to read"))
}
