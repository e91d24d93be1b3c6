package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
)

// Store is an in-memory implementation of store.Store.
// All records are copied on the way in and on the way out.
type Store struct {
	// mu protects every map below
	mu sync.RWMutex

	accounts map[int64]*account.Account
	byNumber map[string]int64

	txs   map[int64]*txRecord
	byRef map[string]int64

	users map[int64]store.User

	nextAccountID int64
	nextTxID      int64
	closed        bool
}

// txRecord is a stored transaction with its account pointers replaced by IDs.
type txRecord struct {
	tx     *transaction.Transaction
	fromID int64
	toID   int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[int64]*account.Account),
		byNumber: make(map[string]int64),
		txs:      make(map[int64]*txRecord),
		byRef:    make(map[string]int64),
		users:    make(map[int64]store.User),
	}
}

// AddUser registers a user in the directory.
func (s *Store) AddUser(u store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Roles = append([]string(nil), u.Roles...)
	s.users[u.ID] = u
}

// SaveUser implements store.UserWriter.
func (s *Store) SaveUser(ctx context.Context, u store.User) error {
	s.AddUser(u)
	return nil
}

// FindUser implements store.UserDirectory.
func (s *Store) FindUser(ctx context.Context, id int64) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return store.User{}, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	return u, nil
}

// FindAccountByID implements store.AccountRepository.
func (s *Store) FindAccountByID(ctx context.Context, id int64) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	return s.loadAccount(id)
}

// FindAccountByNumber implements store.AccountRepository.
func (s *Store) FindAccountByNumber(ctx context.Context, number string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	id, ok := s.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, number)
	}
	return s.loadAccount(id)
}

// loadAccount returns a copy of the account, with member copies attached to
// a group. Callers hold mu.
func (s *Store) loadAccount(id int64) (*account.Account, error) {
	stored, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %d", store.ErrNotFound, id)
	}
	a := stored.Clone()
	if a.IsComposite() {
		for _, m := range s.members(id) {
			if err := a.Add(m); err != nil {
				return nil, fmt.Errorf("attach member %s to %s: %w", m.Number, a.Number, err)
			}
		}
	}
	return a, nil
}

// members returns copies of the accounts whose GroupID is groupID, in ID
// order. Callers hold mu.
func (s *Store) members(groupID int64) []*account.Account {
	var out []*account.Account
	for _, a := range s.accounts {
		if a.GroupID != nil && *a.GroupID == groupID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListGroupMembers implements store.AccountRepository.
func (s *Store) ListGroupMembers(ctx context.Context, groupID int64) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[groupID]; !ok {
		return nil, fmt.Errorf("%w: group %d", store.ErrNotFound, groupID)
	}
	return s.members(groupID), nil
}

// ListAccountNumbers implements store.NumberLister.
func (s *Store) ListAccountNumbers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byNumber))
	for n := range s.byNumber {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// CreateAccount implements store.AccountRepository.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if _, taken := s.byNumber[a.Number]; taken {
		return fmt.Errorf("%w: account number %s", store.ErrDuplicate, a.Number)
	}

	s.nextAccountID++
	a.ID = s.nextAccountID
	s.accounts[a.ID] = a.Shallow()
	s.byNumber[a.Number] = a.ID
	return nil
}

// SaveAccounts implements store.AccountRepository.
func (s *Store) SaveAccounts(ctx context.Context, accounts ...*account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if err := s.checkAccounts(accounts); err != nil {
		return err
	}
	s.putAccounts(accounts)
	return nil
}

// checkAccounts verifies every account exists. Callers hold mu.
func (s *Store) checkAccounts(accounts []*account.Account) error {
	for _, a := range accounts {
		if a == nil {
			continue
		}
		if _, ok := s.accounts[a.ID]; !ok {
			return fmt.Errorf("%w: account %d", store.ErrNotFound, a.ID)
		}
	}
	return nil
}

// putAccounts stores copies of accounts. Callers hold mu.
func (s *Store) putAccounts(accounts []*account.Account) {
	for _, a := range accounts {
		if a == nil {
			continue
		}
		s.accounts[a.ID] = a.Shallow()
		s.byNumber[a.Number] = a.ID
	}
}

// Commit implements store.Store. Either every record is written or none is.
func (s *Store) Commit(ctx context.Context, tx *transaction.Transaction, accounts ...*account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if err := s.checkAccounts(accounts); err != nil {
		return err
	}
	if tx.ID != 0 {
		if _, ok := s.txs[tx.ID]; !ok {
			return fmt.Errorf("%w: transaction %d", store.ErrNotFound, tx.ID)
		}
	} else {
		if tx.Reference == "" {
			tx.Reference = transaction.NewReference()
		}
		if _, taken := s.byRef[tx.Reference]; taken {
			return fmt.Errorf("%w: reference %s", store.ErrDuplicate, tx.Reference)
		}
		s.nextTxID++
		tx.ID = s.nextTxID
	}

	rec := &txRecord{tx: tx.Clone()}
	if tx.From != nil {
		rec.fromID = tx.From.ID
	}
	if tx.To != nil {
		rec.toID = tx.To.ID
	}
	rec.tx.From, rec.tx.To = nil, nil

	s.txs[tx.ID] = rec
	s.byRef[tx.Reference] = tx.ID
	s.putAccounts(accounts)
	return nil
}

// loadTx rebuilds a transaction with fresh account copies. Callers hold mu.
func (s *Store) loadTx(rec *txRecord) (*transaction.Transaction, error) {
	tx := rec.tx.Clone()
	if rec.fromID != 0 {
		a, err := s.loadAccount(rec.fromID)
		if err != nil {
			return nil, err
		}
		tx.From = a
	}
	if rec.toID != 0 {
		a, err := s.loadAccount(rec.toID)
		if err != nil {
			return nil, err
		}
		tx.To = a
	}
	return tx, nil
}

// FindTransactionByID implements store.TransactionRepository.
func (s *Store) FindTransactionByID(ctx context.Context, id int64) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", store.ErrNotFound, id)
	}
	return s.loadTx(rec)
}

// FindTransactionByReference implements store.TransactionRepository.
func (s *Store) FindTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[reference]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, reference)
	}
	return s.loadTx(s.txs[id])
}

// sorted returns the records matching keep ordered by creation time, then ID.
// Callers hold mu.
func (s *Store) sorted(keep func(*txRecord) bool, newestFirst bool) []*txRecord {
	var recs []*txRecord
	for _, rec := range s.txs {
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].tx, recs[j].tx
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return recs
}

func (s *Store) loadAll(recs []*txRecord) ([]*transaction.Transaction, error) {
	out := make([]*transaction.Transaction, 0, len(recs))
	for _, rec := range recs {
		tx, err := s.loadTx(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// FindTransactionsByStatus implements store.TransactionRepository.
func (s *Store) FindTransactionsByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.sorted(func(r *txRecord) bool { return r.tx.Status == status }, false)
	return s.loadAll(recs)
}

// FindTransactionsByAccount implements store.TransactionRepository.
func (s *Store) FindTransactionsByAccount(ctx context.Context, accountID int64, limit int) ([]*transaction.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.sorted(func(r *txRecord) bool { return r.fromID == accountID || r.toID == accountID }, true)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return s.loadAll(recs)
}

// CountCompletedSince implements store.TransactionRepository.
func (s *Store) CountCompletedSince(ctx context.Context, accountID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.txs {
		if rec.fromID == accountID && rec.tx.Status == transaction.StatusCompleted && !rec.tx.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// SumCompleted implements store.TransactionRepository.
func (s *Store) SumCompleted(ctx context.Context, accountID int64, typ transaction.Type, since, until time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, rec := range s.txs {
		tx := rec.tx
		if tx.Type != typ || tx.Status != transaction.StatusCompleted {
			continue
		}
		if rec.fromID != accountID && rec.toID != accountID {
			continue
		}
		if tx.CreatedAt.Before(since) || !tx.CreatedAt.Before(until) {
			continue
		}
		total = total.Add(tx.Amount)
	}
	return total, nil
}

// Close marks the store closed and drops its data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.accounts = make(map[int64]*account.Account)
	s.byNumber = make(map[string]int64)
	s.txs = make(map[int64]*txRecord)
	s.byRef = make(map[string]int64)
	return nil
}

// Stats returns the number of stored records.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Accounts:     len(s.accounts),
		Transactions: len(s.txs),
		Users:        len(s.users),
	}
}

// Stats holds store statistics.
type Stats struct {
	Accounts     int
	Transactions int
	Users        int
}
