// Package store defines persistence for accounts, transactions and users.
//
// Implementations load accounts as independent copies: mutating a loaded
// account has no effect until it is written back through Commit or
// SaveAccounts. A loaded GROUP account carries its members.
package store

import (
	"context"
	"errors"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique field such as an account number is already taken
	ErrDuplicate = errors.New("store: duplicate record")

	// ErrClosed is returned when the store was closed
	ErrClosed = errors.New("store: closed")
)

// IsNotFound checks if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RoleManager is the role required to approve or reject transactions.
const RoleManager = "MANAGER"

// User is an entry of the user directory.
type User struct {
	ID       int64
	Username string
	Roles    []string
}

// HasRole reports whether the user holds role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccountRepository reads and writes accounts.
type AccountRepository interface {
	FindAccountByID(ctx context.Context, id int64) (*account.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (*account.Account, error)
	// CreateAccount inserts a new account and assigns its ID.
	CreateAccount(ctx context.Context, a *account.Account) error
	// SaveAccounts updates existing accounts in one unit.
	SaveAccounts(ctx context.Context, accounts ...*account.Account) error
	ListGroupMembers(ctx context.Context, groupID int64) ([]*account.Account, error)
}

// NumberLister is implemented by stores that can enumerate account numbers.
type NumberLister interface {
	ListAccountNumbers(ctx context.Context) ([]string, error)
}

// TransactionRepository reads transactions and answers the aggregate
// queries used by the approval handlers and reports.
type TransactionRepository interface {
	FindTransactionByID(ctx context.Context, id int64) (*transaction.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error)
	// FindTransactionsByStatus returns matches oldest first.
	FindTransactionsByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Transaction, error)
	// FindTransactionsByAccount returns the most recent transactions touching
	// the account, newest first.
	FindTransactionsByAccount(ctx context.Context, accountID int64, limit int) ([]*transaction.Transaction, error)
	// CountCompletedSince counts COMPLETED transactions debiting the account
	// created at or after since.
	CountCompletedSince(ctx context.Context, accountID int64, since time.Time) (int, error)
	// SumCompleted totals COMPLETED transactions of typ touching the account
	// created in [since, until).
	SumCompleted(ctx context.Context, accountID int64, typ transaction.Type, since, until time.Time) (decimal.Decimal, error)
}

// UserDirectory resolves users for role checks.
type UserDirectory interface {
	FindUser(ctx context.Context, id int64) (User, error)
}

// UserWriter is implemented by stores whose user directory can be edited.
type UserWriter interface {
	SaveUser(ctx context.Context, u User) error
}

// Store is the full persistence surface used by the banking services.
type Store interface {
	AccountRepository
	TransactionRepository
	UserDirectory

	// Commit persists tx together with accounts atomically. A transaction
	// without an ID is inserted and gets its ID and, if empty, its Reference.
	Commit(ctx context.Context, tx *transaction.Transaction, accounts ...*account.Account) error

	Close() error
}
