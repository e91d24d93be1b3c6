package account

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func leaf(t *testing.T, kind Kind, number, balance string) *Account {
	t.Helper()
	a, err := New(kind, number, 1, d(balance))
	require.NoError(t, err)
	return a
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		opening   string
		expectErr error
	}{
		{name: "checking", kind: KindChecking, opening: "100"},
		{name: "savings gets default limit", kind: KindSavings, opening: "0"},
		{name: "group is not a leaf", kind: KindGroup, opening: "0", expectErr: ErrUnsupportedOperation},
		{name: "negative opening", kind: KindChecking, opening: "-1", expectErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.kind, "N1", 7, d(tt.opening))
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusActive, a.Status)
			assert.Equal(t, int64(7), a.OwnerID)
			if tt.kind == KindSavings {
				assert.Equal(t, DefaultMonthlyWithdrawalLimit, a.MonthlyWithdrawalLimit)
			}
		})
	}
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Kind("CRYPTO"), "N1", 1, decimal.Zero)
	assert.Error(t, err)
}

func TestNewAccountNumber(t *testing.T) {
	n := NewAccountNumber(KindSavings)
	assert.Regexp(t, `^SAV\d{1,6}[0-9A-F]{4}$`, n)
	assert.NotEqual(t, n, NewAccountNumber(KindSavings))
}

func TestCanWithdraw(t *testing.T) {
	tests := []struct {
		name      string
		balance   string
		overdraft *string
		status    Status
		amount    string
		expected  bool
	}{
		{name: "within balance", balance: "100", status: StatusActive, amount: "100", expected: true},
		{name: "above balance", balance: "100", status: StatusActive, amount: "100.01", expected: false},
		{name: "overdraft covers", balance: "100", overdraft: strPtr("50"), status: StatusActive, amount: "150", expected: true},
		{name: "overdraft exceeded", balance: "100", overdraft: strPtr("50"), status: StatusActive, amount: "150.01", expected: false},
		{name: "zero overdraft ignored", balance: "100", overdraft: strPtr("0"), status: StatusActive, amount: "101", expected: false},
		{name: "frozen", balance: "100", status: StatusFrozen, amount: "1", expected: false},
		{name: "closed", balance: "100", status: StatusClosed, amount: "1", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := leaf(t, KindChecking, "C1", tt.balance)
			a.Status = tt.status
			if tt.overdraft != nil {
				a.OverdraftLimit = decimal.NewNullDecimal(d(*tt.overdraft))
			}
			assert.Equal(t, tt.expected, a.CanWithdraw(d(tt.amount)))
		})
	}
}

func strPtr(s string) *string { return &s }

func TestDepositWithdraw(t *testing.T) {
	a := leaf(t, KindChecking, "C1", "100")

	require.NoError(t, a.Deposit(d("50.25")))
	assert.True(t, a.Balance.Equal(d("150.25")))

	assert.ErrorIs(t, a.Deposit(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, a.Deposit(d("-5")), ErrInvalidAmount)

	require.NoError(t, a.Withdraw(d("0.25")))
	assert.True(t, a.Balance.Equal(d("150")))

	err := a.Withdraw(d("1000"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, IsInsufficientFunds(err))
	assert.True(t, a.Balance.Equal(d("150")), "failed withdrawal must not change balance")
}

func TestTransferTo(t *testing.T) {
	x := leaf(t, KindChecking, "X", "500")
	y := leaf(t, KindSavings, "Y", "200")
	before := x.Balance.Add(y.Balance)

	require.NoError(t, x.TransferTo(y, d("123.45")))
	assert.True(t, x.Balance.Equal(d("376.55")))
	assert.True(t, y.Balance.Equal(d("323.45")))
	assert.True(t, before.Equal(x.Balance.Add(y.Balance)))

	assert.ErrorIs(t, x.TransferTo(x, d("1")), ErrSelfTransfer)
	assert.ErrorIs(t, x.TransferTo(y, d("10000")), ErrInsufficientFunds)

	g := NewGroup("G", "family", GroupFamily, 1, 0)
	assert.ErrorIs(t, x.TransferTo(g, d("1")), ErrUnsupportedOperation)
}

func TestLeafOperationsOnGroup(t *testing.T) {
	g := NewGroup("G", "family", GroupFamily, 1, 0)

	assert.True(t, IsUnsupported(g.Deposit(d("1"))))
	assert.True(t, IsUnsupported(g.Withdraw(d("1"))))
}

func TestGroupOperationsOnLeaf(t *testing.T) {
	a := leaf(t, KindChecking, "C1", "1")
	b := leaf(t, KindChecking, "C2", "1")

	assert.ErrorIs(t, a.Add(b), ErrUnsupportedOperation)
	assert.ErrorIs(t, a.Remove(b), ErrUnsupportedOperation)
	_, err := a.FindMember("C2")
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = a.Stats()
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestMonthlyWithdrawals(t *testing.T) {
	a := leaf(t, KindSavings, "S1", "1000")
	a.MonthlyWithdrawalLimit = 2
	oct := time.Date(2026, 10, 3, 12, 0, 0, 0, time.UTC)

	require.NoError(t, a.RecordWithdrawal(oct))
	require.NoError(t, a.RecordWithdrawal(oct.Add(24*time.Hour)))
	assert.False(t, a.CanWithdrawThisMonth(oct))
	assert.Equal(t, 0, a.RemainingWithdrawals(oct))
	assert.ErrorIs(t, a.RecordWithdrawal(oct), ErrMonthlyLimitExceeded)

	nov := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, a.CanWithdrawThisMonth(nov), "counter rolls over with the calendar month")
	require.NoError(t, a.RecordWithdrawal(nov))
	assert.Equal(t, 1, a.WithdrawalsThisMonth)
	assert.Equal(t, "2026-11", a.WithdrawalPeriod)

	a.ResetMonthlyWithdrawals()
	assert.Equal(t, 2, a.RemainingWithdrawals(nov))
}

func TestMonthlyWithdrawals_NonSavings(t *testing.T) {
	a := leaf(t, KindChecking, "C1", "1000")
	now := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, a.RecordWithdrawal(now))
	}
	assert.True(t, a.CanWithdrawThisMonth(now))
	assert.Equal(t, 0, a.WithdrawalsThisMonth)
}

func TestBelowMinimum(t *testing.T) {
	a := leaf(t, KindChecking, "C1", "40")
	assert.False(t, a.BelowMinimum())
	a.MinimumBalance = decimal.NewNullDecimal(d("50"))
	assert.True(t, a.BelowMinimum())
}

func TestBelowMinimumAfter(t *testing.T) {
	a := leaf(t, KindChecking, "C1", "100")
	assert.False(t, a.BelowMinimumAfter(d("100")), "no minimum configured")

	a.MinimumBalance = decimal.NewNullDecimal(d("50"))
	assert.False(t, a.BelowMinimumAfter(d("50")), "landing on the minimum is allowed")
	assert.True(t, a.BelowMinimumAfter(d("50.01")))
	assert.False(t, a.BelowMinimum())
}

func TestClone(t *testing.T) {
	a := leaf(t, KindChecking, "C1", "40")
	gid := int64(9)
	a.GroupID = &gid

	c := a.Clone()
	require.NoError(t, c.Deposit(d("10")))
	*c.GroupID = 10

	assert.True(t, a.Balance.Equal(d("40")))
	assert.Equal(t, int64(9), *a.GroupID)
}
