package banking

import (
	"context"
	"sync"
	"testing"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/lock"
	"approval-chain/pkg/logging"
	memorycollector "approval-chain/pkg/metrics/memory"
	"approval-chain/pkg/notify"
	"approval-chain/pkg/pipeline"
	"approval-chain/pkg/store"
	"approval-chain/pkg/store/memory"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var noon = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

const (
	managerID  int64 = 100
	customerID int64 = 1
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev notify.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) Events() []notify.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Event(nil), d.events...)
}

type fixture struct {
	ctx        context.Context
	st         *memory.Store
	locker     *lock.KeyedMutex
	dispatcher *recordingDispatcher
	metrics    *memorycollector.MemoryCollector
	clock      func() time.Time

	txs      *TransactionService
	groups   *GroupService
	accounts *AccountService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		ctx:        context.Background(),
		st:         memory.New(),
		locker:     lock.NewKeyedMutex(),
		dispatcher: &recordingDispatcher{},
		metrics:    memorycollector.NewMemoryCollector(),
		clock:      func() time.Time { return noon },
	}
	f.st.AddUser(store.User{ID: managerID, Username: "manager", Roles: []string{store.RoleManager}})
	f.st.AddUser(store.User{ID: customerID, Username: "customer", Roles: []string{"CUSTOMER"}})

	asm, err := pipeline.NewAssembler(pipeline.DefaultConfig(), f.st,
		pipeline.WithClock(f.clock),
		pipeline.WithLogger(logging.NewNoOpLogger()),
	)
	require.NoError(t, err)

	all := append([]Option{
		WithLocker(f.locker),
		WithDispatcher(f.dispatcher),
		WithMetrics(f.metrics),
		WithLogger(logging.NewNoOpLogger()),
		WithClock(f.clock),
	}, opts...)

	f.txs = NewTransactionService(f.st, asm.Approval(), all...)
	f.groups = NewGroupService(f.st, all...)
	f.accounts = NewAccountService(f.st, all...)
	return f
}

func (f *fixture) open(t *testing.T, kind account.Kind, balance string) *account.Account {
	t.Helper()
	a, err := f.accounts.Open(f.ctx, kind, customerID, dec(balance))
	require.NoError(t, err)
	return a
}

func (f *fixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	a, err := f.st.FindAccountByNumber(f.ctx, number)
	require.NoError(t, err)
	return a.Balance
}

// pending stores a PENDING transaction without running the pipeline.
func (f *fixture) pending(t *testing.T, typ transaction.Type, amount string, from, to *account.Account) *transaction.Transaction {
	t.Helper()
	owner := customerID
	tx := transaction.New(typ, dec(amount), from, to, owner).WithClock(f.clock)
	require.NoError(t, f.st.Commit(f.ctx, tx))
	return tx
}
