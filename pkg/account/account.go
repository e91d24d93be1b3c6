package account

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a balance-holding entity. Leaf kinds store a balance; the GROUP
// kind aggregates the balances of its members and never stores one.
//
// Capabilities are selected by Kind rather than by distinct types, so callers
// check IsComposite before using member operations.
type Account struct {
	ID        int64
	Number    string
	OwnerID   int64
	Kind      Kind
	Status    Status
	CreatedAt time.Time

	// Leaf fields
	Balance        decimal.Decimal
	OverdraftLimit decimal.NullDecimal
	MinimumBalance decimal.NullDecimal
	InterestRate   decimal.Decimal
	// GroupID references the owning group. Nil when the account is ungrouped.
	GroupID *int64

	// Savings fields
	MonthlyWithdrawalLimit int
	WithdrawalsThisMonth   int
	// WithdrawalPeriod is the calendar month ("2006-01") WithdrawalsThisMonth counts for.
	WithdrawalPeriod string

	// Group fields
	Name        string
	Description string
	GroupType   GroupType
	// MaxMembers caps the member count. 0 means unlimited.
	MaxMembers int
	members    []*Account
}

// New creates an active leaf account of the given kind.
func New(kind Kind, number string, ownerID int64, opening decimal.Decimal) (*Account, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("account: unknown kind %q", kind)
	}
	if kind == KindGroup {
		return nil, unsupported("open leaf", kind)
	}
	if opening.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance %s", ErrInvalidAmount, opening)
	}

	a := &Account{
		Number:    number,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
		Balance:   opening,
	}
	if kind == KindSavings {
		a.MonthlyWithdrawalLimit = DefaultMonthlyWithdrawalLimit
	}
	return a, nil
}

// NewGroup creates an empty active group.
func NewGroup(number, name string, groupType GroupType, ownerID int64, maxMembers int) *Account {
	return &Account{
		Number:     number,
		OwnerID:    ownerID,
		Kind:       KindGroup,
		Status:     StatusActive,
		CreatedAt:  time.Now().UTC(),
		Name:       name,
		GroupType:  groupType,
		MaxMembers: maxMembers,
	}
}

// NewAccountNumber generates an account number such as "SAV482913A1F0".
func NewAccountNumber(kind Kind) string {
	millis := time.Now().UnixMilli() % 1000000
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return kind.prefix() + strconv.FormatInt(millis, 10) + suffix
}

// IsComposite reports whether the account is a group.
func (a *Account) IsComposite() bool {
	return a.Kind == KindGroup
}

// IsActive reports whether the account status is ACTIVE.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// TotalBalance returns the stored balance of a leaf, or the live sum over the
// ACTIVE members of a group.
func (a *Account) TotalBalance() decimal.Decimal {
	if !a.IsComposite() {
		return a.Balance
	}
	total := decimal.Zero
	for _, m := range a.members {
		if m.IsActive() {
			total = total.Add(m.TotalBalance())
		}
	}
	return total
}

// AvailableBalance is the balance plus any positive overdraft allowance.
func (a *Account) AvailableBalance() decimal.Decimal {
	available := a.TotalBalance()
	if a.OverdraftLimit.Valid && a.OverdraftLimit.Decimal.IsPositive() {
		available = available.Add(a.OverdraftLimit.Decimal)
	}
	return available
}

// CanWithdraw holds iff the account is ACTIVE and amount does not exceed the available balance.
func (a *Account) CanWithdraw(amount decimal.Decimal) bool {
	return a.IsActive() && amount.LessThanOrEqual(a.AvailableBalance())
}

// BelowMinimum reports whether the balance dropped under the configured minimum.
func (a *Account) BelowMinimum() bool {
	return a.BelowMinimumAfter(decimal.Zero)
}

// BelowMinimumAfter reports whether debiting amount would leave the balance
// under the configured minimum.
func (a *Account) BelowMinimumAfter(amount decimal.Decimal) bool {
	return a.MinimumBalance.Valid && a.TotalBalance().Sub(amount).LessThan(a.MinimumBalance.Decimal)
}

// Deposit increases a leaf balance.
func (a *Account) Deposit(amount decimal.Decimal) error {
	if a.IsComposite() {
		return unsupported("deposit", a.Kind)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

// Withdraw decreases a leaf balance.
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if a.IsComposite() {
		return unsupported("withdraw", a.Kind)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if !a.CanWithdraw(amount) {
		return fmt.Errorf("%w: account %s requested %s, available %s",
			ErrInsufficientFunds, a.Number, amount, a.AvailableBalance())
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

// TransferTo withdraws from a and deposits into target. The two steps are not
// atomic; callers that need atomicity persist both accounts in one unit.
func (a *Account) TransferTo(target *Account, amount decimal.Decimal) error {
	if target == nil {
		return ErrNullChild
	}
	if target == a || (a.Number != "" && target.Number == a.Number) {
		return ErrSelfTransfer
	}
	if target.IsComposite() {
		return unsupported("transfer into", target.Kind)
	}
	if err := a.Withdraw(amount); err != nil {
		return err
	}
	return target.Deposit(amount)
}

func period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (a *Account) withdrawalLimit() int {
	if a.MonthlyWithdrawalLimit <= 0 {
		return DefaultMonthlyWithdrawalLimit
	}
	return a.MonthlyWithdrawalLimit
}

// withdrawalsIn returns the counter for the month of now. A counter from an
// earlier month counts as zero.
func (a *Account) withdrawalsIn(now time.Time) int {
	if a.WithdrawalPeriod != period(now) {
		return 0
	}
	return a.WithdrawalsThisMonth
}

// CanWithdrawThisMonth reports whether a savings account has withdrawals left
// in the calendar month of now. Other kinds always can.
func (a *Account) CanWithdrawThisMonth(now time.Time) bool {
	if a.Kind != KindSavings {
		return true
	}
	return a.withdrawalsIn(now) < a.withdrawalLimit()
}

// RemainingWithdrawals returns how many savings withdrawals are left this month.
func (a *Account) RemainingWithdrawals(now time.Time) int {
	left := a.withdrawalLimit() - a.withdrawalsIn(now)
	if left < 0 {
		return 0
	}
	return left
}

// RecordWithdrawal counts one savings withdrawal against the month of now.
func (a *Account) RecordWithdrawal(now time.Time) error {
	if a.Kind != KindSavings {
		return nil
	}
	if !a.CanWithdrawThisMonth(now) {
		return fmt.Errorf("%w: account %s", ErrMonthlyLimitExceeded, a.Number)
	}
	p := period(now)
	if a.WithdrawalPeriod != p {
		a.WithdrawalPeriod = p
		a.WithdrawalsThisMonth = 0
	}
	a.WithdrawalsThisMonth++
	return nil
}

// ResetMonthlyWithdrawals clears the savings withdrawal counter.
func (a *Account) ResetMonthlyWithdrawals() {
	a.WithdrawalsThisMonth = 0
	a.WithdrawalPeriod = ""
}

// Clone returns a copy that can be mutated without affecting a. Group members
// are shared, not copied.
func (a *Account) Clone() *Account {
	c := *a
	if a.GroupID != nil {
		id := *a.GroupID
		c.GroupID = &id
	}
	if a.members != nil {
		c.members = make([]*Account, len(a.members))
		copy(c.members, a.members)
	}
	return &c
}

// Shallow returns a copy without members. Membership is owned by the member
// side through GroupID.
func (a *Account) Shallow() *Account {
	c := a.Clone()
	c.members = nil
	return c
}

// String returns a short description of the account.
func (a *Account) String() string {
	return fmt.Sprintf("%s(%s)", a.Kind, a.Number)
}
