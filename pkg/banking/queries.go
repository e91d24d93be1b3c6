package banking

import (
	"context"
	"time"

	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Get returns a transaction by ID.
func (s *TransactionService) Get(ctx context.Context, id int64) (*transaction.Transaction, error) {
	return s.store.FindTransactionByID(ctx, id)
}

// GetByReference returns a transaction by its reference.
func (s *TransactionService) GetByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return s.store.FindTransactionByReference(ctx, reference)
}

// PendingApprovals returns the transactions waiting for a manager, oldest first.
func (s *TransactionService) PendingApprovals(ctx context.Context) ([]*transaction.Transaction, error) {
	return s.store.FindTransactionsByStatus(ctx, transaction.StatusPendingApproval)
}

// RecentForAccount returns up to limit transactions touching the account, newest first.
func (s *TransactionService) RecentForAccount(ctx context.Context, accountID int64, limit int) ([]*transaction.Transaction, error) {
	return s.store.FindTransactionsByAccount(ctx, accountID, limit)
}

// MonthlyTotals are the completed deposits and withdrawals of one calendar month.
type MonthlyTotals struct {
	Deposits    decimal.Decimal
	Withdrawals decimal.Decimal
}

// MonthlyTotals sums the completed deposits and withdrawals of the account in
// the calendar month (UTC) containing now.
func (s *TransactionService) MonthlyTotals(ctx context.Context, accountID int64, now time.Time) (MonthlyTotals, error) {
	now = now.UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	until := since.AddDate(0, 1, 0)

	deposits, withdrawals, err := s.sums(ctx, accountID, since, until)
	if err != nil {
		return MonthlyTotals{}, err
	}
	return MonthlyTotals{Deposits: deposits, Withdrawals: withdrawals}, nil
}

// Statistics summarizes the activity of one account.
type Statistics struct {
	AccountID        int64
	TotalDeposits    decimal.Decimal
	TotalWithdrawals decimal.Decimal
	NetFlow          decimal.Decimal
	// RecentCount is the number of transactions among the last five.
	RecentCount int
}

const recentWindow = 5

// Statistics reports deposits, withdrawals and net flow of the account from
// since until now.
func (s *TransactionService) Statistics(ctx context.Context, accountID int64, since time.Time) (Statistics, error) {
	until := s.clock().Add(time.Nanosecond)

	deposits, withdrawals, err := s.sums(ctx, accountID, since, until)
	if err != nil {
		return Statistics{}, err
	}
	recent, err := s.store.FindTransactionsByAccount(ctx, accountID, recentWindow)
	if err != nil {
		return Statistics{}, err
	}

	return Statistics{
		AccountID:        accountID,
		TotalDeposits:    deposits,
		TotalWithdrawals: withdrawals,
		NetFlow:          deposits.Sub(withdrawals),
		RecentCount:      len(recent),
	}, nil
}

func (s *TransactionService) sums(ctx context.Context, accountID int64, since, until time.Time) (deposits, withdrawals decimal.Decimal, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		deposits, err = s.store.SumCompleted(gctx, accountID, transaction.TypeDeposit, since, until)
		return err
	})
	g.Go(func() error {
		var err error
		withdrawals, err = s.store.SumCompleted(gctx, accountID, transaction.TypeWithdrawal, since, until)
		return err
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return deposits, withdrawals, nil
}
