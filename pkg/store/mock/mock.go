package mock

import (
	"context"
	"sync/atomic"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
)

// Store is a mock implementation of store.Store for testing.
// It allows injecting custom behavior for each method and tracks call counts.
// Methods without a hook return store.ErrNotFound for lookups and succeed
// otherwise.
type Store struct {
	// Function hooks - set these to customize behavior
	FindAccountByIDFunc            func(ctx context.Context, id int64) (*account.Account, error)
	FindAccountByNumberFunc        func(ctx context.Context, number string) (*account.Account, error)
	CreateAccountFunc              func(ctx context.Context, a *account.Account) error
	SaveAccountsFunc               func(ctx context.Context, accounts ...*account.Account) error
	ListGroupMembersFunc           func(ctx context.Context, groupID int64) ([]*account.Account, error)
	FindTransactionByIDFunc        func(ctx context.Context, id int64) (*transaction.Transaction, error)
	FindTransactionByReferenceFunc func(ctx context.Context, reference string) (*transaction.Transaction, error)
	FindTransactionsByStatusFunc   func(ctx context.Context, status transaction.Status) ([]*transaction.Transaction, error)
	FindTransactionsByAccountFunc  func(ctx context.Context, accountID int64, limit int) ([]*transaction.Transaction, error)
	CountCompletedSinceFunc        func(ctx context.Context, accountID int64, since time.Time) (int, error)
	SumCompletedFunc               func(ctx context.Context, accountID int64, typ transaction.Type, since, until time.Time) (decimal.Decimal, error)
	FindUserFunc                   func(ctx context.Context, id int64) (store.User, error)
	CommitFunc                     func(ctx context.Context, tx *transaction.Transaction, accounts ...*account.Account) error
	CloseFunc                      func() error

	// Call tracking (must use atomic operations for race-free access)
	findByNumberCalls int64
	commitCalls       int64
	countCalls        int64
	closeCalls        int64
}

// NewStore creates a Store with default behavior.
func NewStore() *Store {
	return &Store{}
}

// FindAccountByID implements store.AccountRepository.
func (m *Store) FindAccountByID(ctx context.Context, id int64) (*account.Account, error) {
	if m.FindAccountByIDFunc != nil {
		return m.FindAccountByIDFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

// FindAccountByNumber implements store.AccountRepository.
func (m *Store) FindAccountByNumber(ctx context.Context, number string) (*account.Account, error) {
	atomic.AddInt64(&m.findByNumberCalls, 1)
	if m.FindAccountByNumberFunc != nil {
		return m.FindAccountByNumberFunc(ctx, number)
	}
	return nil, store.ErrNotFound
}

// CreateAccount implements store.AccountRepository.
func (m *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, a)
	}
	return nil
}

// SaveAccounts implements store.AccountRepository.
func (m *Store) SaveAccounts(ctx context.Context, accounts ...*account.Account) error {
	if m.SaveAccountsFunc != nil {
		return m.SaveAccountsFunc(ctx, accounts...)
	}
	return nil
}

// ListGroupMembers implements store.AccountRepository.
func (m *Store) ListGroupMembers(ctx context.Context, groupID int64) ([]*account.Account, error) {
	if m.ListGroupMembersFunc != nil {
		return m.ListGroupMembersFunc(ctx, groupID)
	}
	return nil, nil
}

// FindTransactionByID implements store.TransactionRepository.
func (m *Store) FindTransactionByID(ctx context.Context, id int64) (*transaction.Transaction, error) {
	if m.FindTransactionByIDFunc != nil {
		return m.FindTransactionByIDFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

// FindTransactionByReference implements store.TransactionRepository.
func (m *Store) FindTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	if m.FindTransactionByReferenceFunc != nil {
		return m.FindTransactionByReferenceFunc(ctx, reference)
	}
	return nil, store.ErrNotFound
}

// FindTransactionsByStatus implements store.TransactionRepository.
func (m *Store) FindTransactionsByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Transaction, error) {
	if m.FindTransactionsByStatusFunc != nil {
		return m.FindTransactionsByStatusFunc(ctx, status)
	}
	return nil, nil
}

// FindTransactionsByAccount implements store.TransactionRepository.
func (m *Store) FindTransactionsByAccount(ctx context.Context, accountID int64, limit int) ([]*transaction.Transaction, error) {
	if m.FindTransactionsByAccountFunc != nil {
		return m.FindTransactionsByAccountFunc(ctx, accountID, limit)
	}
	return nil, nil
}

// CountCompletedSince implements store.TransactionRepository.
func (m *Store) CountCompletedSince(ctx context.Context, accountID int64, since time.Time) (int, error) {
	atomic.AddInt64(&m.countCalls, 1)
	if m.CountCompletedSinceFunc != nil {
		return m.CountCompletedSinceFunc(ctx, accountID, since)
	}
	return 0, nil
}

// SumCompleted implements store.TransactionRepository.
func (m *Store) SumCompleted(ctx context.Context, accountID int64, typ transaction.Type, since, until time.Time) (decimal.Decimal, error) {
	if m.SumCompletedFunc != nil {
		return m.SumCompletedFunc(ctx, accountID, typ, since, until)
	}
	return decimal.Zero, nil
}

// FindUser implements store.UserDirectory.
func (m *Store) FindUser(ctx context.Context, id int64) (store.User, error) {
	if m.FindUserFunc != nil {
		return m.FindUserFunc(ctx, id)
	}
	return store.User{}, store.ErrNotFound
}

// Commit implements store.Store.
func (m *Store) Commit(ctx context.Context, tx *transaction.Transaction, accounts ...*account.Account) error {
	atomic.AddInt64(&m.commitCalls, 1)
	if m.CommitFunc != nil {
		return m.CommitFunc(ctx, tx, accounts...)
	}
	return nil
}

// Close implements store.Store.
func (m *Store) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// FindByNumberCalls returns the number of FindAccountByNumber calls (thread-safe).
func (m *Store) FindByNumberCalls() int {
	return int(atomic.LoadInt64(&m.findByNumberCalls))
}

// CommitCalls returns the number of Commit calls (thread-safe).
func (m *Store) CommitCalls() int {
	return int(atomic.LoadInt64(&m.commitCalls))
}

// CountCalls returns the number of CountCompletedSince calls (thread-safe).
func (m *Store) CountCalls() int {
	return int(atomic.LoadInt64(&m.countCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *Store) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}

var _ store.Store = (*Store)(nil)
