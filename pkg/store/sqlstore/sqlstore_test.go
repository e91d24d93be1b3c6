package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite, filepath.Join(t.TempDir(), "bank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createAccount(t *testing.T, s *Store, kind account.Kind, balance string) *account.Account {
	t.Helper()
	a, err := account.New(kind, account.NewAccountNumber(kind), 1, decimal.RequireFromString(balance))
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", Postgres.rebind(q))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}

func TestStore_Accounts(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	a := createAccount(t, s, account.KindSavings, "1234.56")
	a.OverdraftLimit = decimal.NewNullDecimal(decimal.NewFromInt(100))
	require.NoError(t, a.RecordWithdrawal(time.Now()))
	require.NoError(t, s.SaveAccounts(ctx, a))

	got, err := s.FindAccountByNumber(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, account.KindSavings, got.Kind)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("1234.56")))
	assert.True(t, got.OverdraftLimit.Valid)
	assert.False(t, got.MinimumBalance.Valid)
	assert.Equal(t, 1, got.WithdrawalsThisMonth)
	assert.Equal(t, account.DefaultMonthlyWithdrawalLimit, got.MonthlyWithdrawalLimit)

	dup, _ := account.New(account.KindChecking, a.Number, 1, decimal.Zero)
	assert.ErrorIs(t, s.CreateAccount(ctx, dup), store.ErrDuplicate)

	_, err = s.FindAccountByID(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Group(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	group := account.NewGroup(account.NewAccountNumber(account.KindGroup), "ops", account.GroupBusiness, 1, 3)
	require.NoError(t, s.CreateAccount(ctx, group))

	m1 := createAccount(t, s, account.KindChecking, "100")
	m2 := createAccount(t, s, account.KindBusiness, "300")
	require.NoError(t, group.Add(m1))
	require.NoError(t, group.Add(m2))
	require.NoError(t, s.SaveAccounts(ctx, m1, m2))

	loaded, err := s.FindAccountByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops", loaded.Name)
	assert.Equal(t, 3, loaded.MaxMembers)
	assert.Equal(t, 2, loaded.MemberCount())
	assert.True(t, loaded.TotalBalance().Equal(decimal.NewFromInt(400)))
}

func TestStore_CommitAndQueries(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	from := createAccount(t, s, account.KindChecking, "500")
	to := createAccount(t, s, account.KindChecking, "0")

	tx := transaction.New(transaction.TypeTransfer, decimal.NewFromInt(200), from, to, 7)
	tx.Description = "rent"
	tx.Record("BalanceCheck", "ok")
	tx.Record("AutoApproval", "done")
	require.NoError(t, tx.Complete(transaction.SystemUser))
	require.NoError(t, from.TransferTo(to, tx.Amount))
	require.NoError(t, s.Commit(ctx, tx, from, to))
	require.NotZero(t, tx.ID)

	got, err := s.FindTransactionByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, transaction.StatusCompleted, got.Status)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, transaction.SystemUser, *got.ApprovedBy)
	assert.NotNil(t, got.ProcessedAt)
	require.Len(t, got.Audit(), 2)
	assert.Equal(t, "AutoApproval", got.Audit()[1].Handler)
	assert.True(t, got.From.Balance.Equal(decimal.NewFromInt(300)))
	assert.True(t, got.To.Balance.Equal(decimal.NewFromInt(200)))

	pending := transaction.New(transaction.TypeWithdrawal, decimal.NewFromInt(50), from, nil, 7)
	require.NoError(t, s.Commit(ctx, pending))

	list, err := s.FindTransactionsByStatus(ctx, transaction.StatusPending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].To)

	n, err := s.CountCompletedSince(ctx, from.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sum, err := s.SumCompleted(ctx, to.ID, transaction.TypeTransfer, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(200)))

	recent, err := s.FindTransactionsByAccount(ctx, from.ID, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestStore_CommitRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	from := createAccount(t, s, account.KindChecking, "500")
	from.Balance = decimal.NewFromInt(1)

	tx := transaction.New(transaction.TypeWithdrawal, decimal.NewFromInt(10), from, nil, 7)
	err := s.Commit(ctx, tx, from, &account.Account{ID: 4242, Number: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, tx.ID)

	got, err := s.FindAccountByID(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(500)))

	list, err := s.FindTransactionsByStatus(ctx, transaction.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.SaveUser(ctx, store.User{ID: 9, Username: "boss", Roles: []string{"USER", store.RoleManager}}))
	require.NoError(t, s.SaveUser(ctx, store.User{ID: 9, Username: "boss", Roles: []string{"USER"}}))

	u, err := s.FindUser(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "boss", u.Username)
	assert.False(t, u.HasRole(store.RoleManager))

	_, err = s.FindUser(ctx, 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateDown(t *testing.T) {
	s := openSQLite(t)
	require.NoError(t, MigrateDown(s.DB(), SQLite))
	require.NoError(t, MigrateUp(s.DB(), SQLite))
}
