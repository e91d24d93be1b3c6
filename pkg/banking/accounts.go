package banking

import (
	"context"
	"fmt"

	"approval-chain/pkg/account"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountService opens and administers leaf accounts.
type AccountService struct {
	options
	store store.Store
}

// NewAccountService creates an AccountService.
func NewAccountService(st store.Store, opts ...Option) *AccountService {
	s := &AccountService{options: buildOptions(opts), store: st}
	s.logger = s.logger.Named("accounts")
	return s
}

// Open creates an active account of kind with an opening balance.
func (s *AccountService) Open(ctx context.Context, kind account.Kind, ownerID int64, initial decimal.Decimal) (*account.Account, error) {
	a, err := account.New(kind, account.NewAccountNumber(kind), ownerID, initial)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = s.clock()
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("account opened", logging.Account("account", a))
	return a, nil
}

// Find returns an account by number.
func (s *AccountService) Find(ctx context.Context, number string) (*account.Account, error) {
	return s.store.FindAccountByNumber(ctx, number)
}

// update loads a leaf under its lock, applies fn and saves it.
func (s *AccountService) update(ctx context.Context, number string, fn func(a *account.Account) error) (*account.Account, error) {
	a, err := s.store.FindAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if a.IsComposite() {
		return nil, fmt.Errorf("%w: %s is a group", ErrUnsupportedOperation, number)
	}

	release, err := s.lockAccounts(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err = s.store.FindAccountByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := s.store.SaveAccounts(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetStatus changes the status of an account.
func (s *AccountService) SetStatus(ctx context.Context, number string, status account.Status) (*account.Account, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("banking: unknown account status %q", status)
	}
	a, err := s.update(ctx, number, func(a *account.Account) error {
		a.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account status changed", logging.Account("account", a), zap.String("status", string(status)))
	return a, nil
}

// SetMinimumBalance sets the minimum balance of a leaf account. An invalid
// minimum clears it.
func (s *AccountService) SetMinimumBalance(ctx context.Context, number string, minimum decimal.NullDecimal) (*account.Account, error) {
	if minimum.Valid && minimum.Decimal.IsNegative() {
		return nil, fmt.Errorf("%w: minimum balance %s", ErrInvalidAmount, minimum.Decimal)
	}
	a, err := s.update(ctx, number, func(a *account.Account) error {
		a.MinimumBalance = minimum
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account minimum balance changed", logging.Account("account", a),
		zap.Bool("set", minimum.Valid), zap.Bool("below", a.BelowMinimum()))
	return a, nil
}

// ResetMonthlyWithdrawals clears the savings withdrawal counter of an account.
func (s *AccountService) ResetMonthlyWithdrawals(ctx context.Context, number string) (*account.Account, error) {
	return s.update(ctx, number, func(a *account.Account) error {
		if a.Kind != account.KindSavings {
			return fmt.Errorf("%w: reset withdrawals on %s account", ErrUnsupportedOperation, a.Kind)
		}
		a.ResetMonthlyWithdrawals()
		return nil
	})
}
