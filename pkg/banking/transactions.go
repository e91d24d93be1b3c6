package banking

import (
	"context"
	"fmt"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/notify"
	"approval-chain/pkg/pipeline"
	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TransactionService creates transactions, runs them through the approval
// pipeline and handles manager decisions.
type TransactionService struct {
	options
	store    store.Store
	pipeline *pipeline.Pipeline
	sweeps   singleflight.Group
}

// NewTransactionService creates a TransactionService that approves
// transactions with approval.
func NewTransactionService(st store.Store, approval *pipeline.Pipeline, opts ...Option) *TransactionService {
	s := &TransactionService{
		options:  buildOptions(opts),
		store:    st,
		pipeline: approval,
	}
	s.logger = s.logger.Named("transactions")
	return s
}

// CreateTransfer moves amount from one account to another.
func (s *TransactionService) CreateTransfer(ctx context.Context, fromNumber, toNumber string, amount decimal.Decimal, description string) (*transaction.Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if fromNumber == toNumber {
		return nil, fmt.Errorf("%w: %s", ErrSelfTransfer, fromNumber)
	}
	from, err := s.leaf(ctx, fromNumber)
	if err != nil {
		return nil, err
	}
	to, err := s.leaf(ctx, toNumber)
	if err != nil {
		return nil, err
	}

	tx := s.newTransaction(transaction.TypeTransfer, amount, from, to, from.OwnerID)
	tx.Description = description
	return s.submit(ctx, tx)
}

// CreateWithdrawal takes amount out of an account.
func (s *TransactionService) CreateWithdrawal(ctx context.Context, fromNumber string, amount decimal.Decimal, description string) (*transaction.Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	from, err := s.leaf(ctx, fromNumber)
	if err != nil {
		return nil, err
	}

	tx := s.newTransaction(transaction.TypeWithdrawal, amount, from, nil, from.OwnerID)
	tx.Description = description
	return s.submit(ctx, tx)
}

// CreateDeposit puts amount into an account.
func (s *TransactionService) CreateDeposit(ctx context.Context, toNumber string, amount decimal.Decimal, description string) (*transaction.Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	to, err := s.leaf(ctx, toNumber)
	if err != nil {
		return nil, err
	}

	tx := s.newTransaction(transaction.TypeDeposit, amount, nil, to, to.OwnerID)
	tx.Description = description
	return s.submit(ctx, tx)
}

// CreatePayment pays amount from an account to an external payee.
func (s *TransactionService) CreatePayment(ctx context.Context, fromNumber, payeeReference string, amount decimal.Decimal, description string) (*transaction.Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	from, err := s.leaf(ctx, fromNumber)
	if err != nil {
		return nil, err
	}

	tx := s.newTransaction(transaction.TypePayment, amount, from, nil, from.OwnerID)
	tx.PayeeReference = payeeReference
	tx.Description = description
	if payeeReference != "" {
		tx.Description = description + " - " + payeeReference
	}
	return s.submit(ctx, tx)
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func (s *TransactionService) newTransaction(typ transaction.Type, amount decimal.Decimal, from, to *account.Account, initiatedBy int64) *transaction.Transaction {
	return transaction.New(typ, amount, from, to, initiatedBy).WithClock(s.clock)
}

// leaf loads a balance-holding account. Groups cannot take part in transactions.
func (s *TransactionService) leaf(ctx context.Context, number string) (*account.Account, error) {
	a, err := s.store.FindAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if a.IsComposite() {
		return nil, fmt.Errorf("%w: group %s cannot take part in a transaction", ErrUnsupportedOperation, a.Number)
	}
	return a, nil
}

// submit processes a new transaction under the locks of its accounts.
func (s *TransactionService) submit(ctx context.Context, tx *transaction.Transaction) (*transaction.Transaction, error) {
	release, err := s.lockAccounts(ctx, accountIDs(tx)...)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.refresh(ctx, tx); err != nil {
		return nil, err
	}
	return s.process(ctx, tx)
}

func accountIDs(tx *transaction.Transaction) []int64 {
	var ids []int64
	for _, a := range tx.Accounts() {
		ids = append(ids, a.ID)
	}
	return ids
}

// refresh reloads the accounts of tx. Callers hold the account locks.
func (s *TransactionService) refresh(ctx context.Context, tx *transaction.Transaction) error {
	if tx.From != nil {
		a, err := s.store.FindAccountByID(ctx, tx.From.ID)
		if err != nil {
			return err
		}
		tx.From = a
	}
	if tx.To != nil {
		a, err := s.store.FindAccountByID(ctx, tx.To.ID)
		if err != nil {
			return err
		}
		tx.To = a
	}
	return nil
}

// process runs the approval pipeline, settles a completed transaction and
// persists the result. Callers hold the account locks.
func (s *TransactionService) process(ctx context.Context, tx *transaction.Transaction) (*transaction.Transaction, error) {
	before := tx.Clone()

	result, err := s.pipeline.Run(ctx, tx)
	if err != nil {
		s.logger.Error("transaction processing failed", logging.Transaction(tx), zap.Error(err))
		if !tx.IsTerminal() {
			tx.Fail("Processing error: " + err.Error())
		}
		return s.finish(ctx, tx, nil)
	}

	var changed []*account.Account
	if tx.Status == transaction.StatusCompleted {
		changed = s.settleOrRestore(tx, before)
	}

	s.logger.Info("transaction processed",
		logging.Transaction(tx),
		zap.Bool("approved", result.Approved),
		zap.String("stopped_at", result.StoppedAt),
	)
	return s.finish(ctx, tx, changed)
}

// settleOrRestore applies the balance changes of a completed tx. If they
// cannot be applied, tx is put back to its state in before and failed.
func (s *TransactionService) settleOrRestore(tx, before *transaction.Transaction) []*account.Account {
	changed, err := s.settle(tx)
	if err == nil {
		return changed
	}

	s.logger.Warn("settlement failed", logging.Transaction(tx), zap.Error(err))
	audit := tx.Audit()
	*tx = *before
	tx.RestoreAudit(audit)
	tx.UseClock(s.clock)
	tx.Fail("Settlement failed: " + err.Error())
	return nil
}

// settle moves money for a completed transaction. The work is done on copies
// so that a failure leaves tx.From and tx.To untouched; on success they are
// replaced by the updated copies, which are returned for persisting.
func (s *TransactionService) settle(tx *transaction.Transaction) ([]*account.Account, error) {
	var from, to *account.Account
	if tx.Type.Debits() {
		if tx.From == nil {
			return nil, fmt.Errorf("%w: %s without source account", ErrNullChild, tx.Type)
		}
		from = tx.From.Clone()
	}
	if tx.Type.Credits() {
		if tx.To == nil {
			return nil, fmt.Errorf("%w: %s without target account", ErrNullChild, tx.Type)
		}
		to = tx.To.Clone()
	}

	switch {
	case from != nil && to != nil:
		if err := from.TransferTo(to, tx.Amount); err != nil {
			return nil, err
		}
	case from != nil:
		if err := from.Withdraw(tx.Amount); err != nil {
			return nil, err
		}
	case to != nil:
		if err := to.Deposit(tx.Amount); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: cannot settle %s", ErrUnsupportedOperation, tx.Type)
	}

	if tx.Type == transaction.TypeWithdrawal {
		if err := from.RecordWithdrawal(s.clock()); err != nil {
			return nil, err
		}
	}

	var changed []*account.Account
	if from != nil {
		tx.From = from
		changed = append(changed, from)
	}
	if to != nil {
		tx.To = to
		changed = append(changed, to)
	}
	return changed, nil
}

// finish persists tx with the changed accounts and sends the notification.
// Persisting ignores cancellation of ctx so that a decided transaction is
// always recorded.
func (s *TransactionService) finish(ctx context.Context, tx *transaction.Transaction, changed []*account.Account) (*transaction.Transaction, error) {
	if err := s.store.Commit(context.WithoutCancel(ctx), tx, changed...); err != nil {
		s.logger.Error("failed to persist transaction", logging.Transaction(tx), zap.Error(err))
		return nil, fmt.Errorf("banking: persist %s: %w", tx, err)
	}
	s.metrics.RecordOutcome(string(tx.Type), string(tx.Status))
	s.notify(ctx, tx)
	return tx, nil
}

func (s *TransactionService) notify(ctx context.Context, tx *transaction.Transaction) {
	ev, ok := notify.EventFor(tx)
	if !ok {
		return
	}
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("notification not dispatched", logging.Transaction(tx), zap.Error(err))
	}
}

// Approve completes a transaction awaiting manager approval and settles it.
func (s *TransactionService) Approve(ctx context.Context, txID, managerID int64, comments string) (*transaction.Transaction, error) {
	return s.decide(ctx, txID, managerID, "approve", func(tx *transaction.Transaction) ([]*account.Account, error) {
		tx.Record(pipeline.NameManagerApproval, decisionNote("Approved", managerID, comments))
		before := tx.Clone()
		if err := tx.Complete(managerID); err != nil {
			return nil, err
		}
		return s.settleOrRestore(tx, before), nil
	})
}

// Reject fails a transaction awaiting manager approval.
func (s *TransactionService) Reject(ctx context.Context, txID, managerID int64, reason, comments string) (*transaction.Transaction, error) {
	return s.decide(ctx, txID, managerID, "reject", func(tx *transaction.Transaction) ([]*account.Account, error) {
		tx.Record(pipeline.NameManagerApproval, decisionNote("Rejected", managerID, comments))
		return nil, tx.Reject(managerID, reason)
	})
}

func decisionNote(verb string, managerID int64, comments string) string {
	note := fmt.Sprintf("%s by manager %d", verb, managerID)
	if comments != "" {
		note += ": " + comments
	}
	return note
}

// decide runs a manager decision. The state is checked before and again
// after the account locks are taken.
func (s *TransactionService) decide(ctx context.Context, txID, managerID int64, op string, apply func(*transaction.Transaction) ([]*account.Account, error)) (*transaction.Transaction, error) {
	tx, err := s.awaitingApproval(ctx, txID, op)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeManager(ctx, managerID); err != nil {
		return nil, err
	}

	release, err := s.lockAccounts(ctx, accountIDs(tx)...)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err = s.awaitingApproval(ctx, txID, op)
	if err != nil {
		return nil, err
	}

	changed, err := apply(tx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("manager decision recorded",
		logging.Transaction(tx),
		zap.String("decision", op),
		zap.Int64("manager_id", managerID),
	)
	return s.finish(ctx, tx, changed)
}

func (s *TransactionService) awaitingApproval(ctx context.Context, txID int64, op string) (*transaction.Transaction, error) {
	tx, err := s.load(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != transaction.StatusPendingApproval {
		return nil, invalidState(tx, op)
	}
	return tx, nil
}

func (s *TransactionService) authorizeManager(ctx context.Context, userID int64) error {
	u, err := s.store.FindUser(ctx, userID)
	if store.IsNotFound(err) {
		return fmt.Errorf("%w: user %d does not exist", ErrSecurityViolation, userID)
	}
	if err != nil {
		return err
	}
	if !u.HasRole(store.RoleManager) {
		return fmt.Errorf("%w: user %d is not a manager", ErrSecurityViolation, userID)
	}
	return nil
}

// Cancel withdraws a transaction that has not been decided yet. Only the
// user who initiated it may cancel it.
func (s *TransactionService) Cancel(ctx context.Context, txID, userID int64, reason string) (*transaction.Transaction, error) {
	tx, err := s.cancellable(ctx, txID, userID)
	if err != nil {
		return nil, err
	}

	release, err := s.lockAccounts(ctx, accountIDs(tx)...)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err = s.cancellable(ctx, txID, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Cancel(reason); err != nil {
		return nil, err
	}

	s.logger.Info("transaction cancelled", logging.Transaction(tx), zap.Int64("user_id", userID))
	return s.finish(ctx, tx, nil)
}

func (s *TransactionService) cancellable(ctx context.Context, txID, userID int64) (*transaction.Transaction, error) {
	tx, err := s.load(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != transaction.StatusPending && tx.Status != transaction.StatusPendingApproval {
		return nil, invalidState(tx, "cancel")
	}
	if tx.InitiatedBy != userID {
		return nil, fmt.Errorf("%w: user %d did not initiate transaction %s", ErrSecurityViolation, userID, tx.Reference)
	}
	return tx, nil
}

func (s *TransactionService) load(ctx context.Context, txID int64) (*transaction.Transaction, error) {
	tx, err := s.store.FindTransactionByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	return tx.UseClock(s.clock), nil
}

// SweepReport summarizes one pass over the pending transactions.
type SweepReport struct {
	Processed    int
	Completed    int
	Failed       int
	StillPending int
	// Err combines the errors of the transactions that could not be processed.
	Err error
}

// ProcessPending re-runs the approval pipeline over every PENDING
// transaction. A transaction that cannot be processed is logged and skipped.
// Concurrent calls share a single sweep.
func (s *TransactionService) ProcessPending(ctx context.Context) (SweepReport, error) {
	v, err, shared := s.sweeps.Do("sweep", func() (interface{}, error) {
		return s.sweep(ctx)
	})
	if shared {
		s.logger.Debug("joined running sweep")
	}
	if err != nil {
		return SweepReport{}, err
	}
	return v.(SweepReport), nil
}

func (s *TransactionService) sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	pending, err := s.store.FindTransactionsByStatus(ctx, transaction.StatusPending)
	if err != nil {
		return SweepReport{}, fmt.Errorf("banking: list pending transactions: %w", err)
	}

	var report SweepReport
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			report.Err = multierr.Append(report.Err, err)
			break
		}

		done, err := s.reprocess(ctx, tx)
		if err != nil {
			s.logger.Error("failed to process pending transaction", logging.Transaction(tx), zap.Error(err))
			report.Err = multierr.Append(report.Err, fmt.Errorf("%s: %w", tx.Reference, err))
			continue
		}
		if done == nil {
			continue
		}

		report.Processed++
		switch done.Status {
		case transaction.StatusCompleted:
			report.Completed++
		case transaction.StatusFailed:
			report.Failed++
		case transaction.StatusPending, transaction.StatusPendingApproval:
			report.StillPending++
		}
	}

	s.logger.Info("pending sweep finished",
		zap.Int("found", len(pending)),
		zap.Int("processed", report.Processed),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("still_pending", report.StillPending),
		zap.Int("errors", len(multierr.Errors(report.Err))),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// reprocess runs one pending transaction again. It returns nil, nil when the
// transaction was decided elsewhere in the meantime.
func (s *TransactionService) reprocess(ctx context.Context, stale *transaction.Transaction) (*transaction.Transaction, error) {
	release, err := s.lockAccounts(ctx, accountIDs(stale)...)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.load(ctx, stale.ID)
	if err != nil {
		return nil, err
	}
	if tx.Status != transaction.StatusPending {
		return nil, nil
	}
	return s.process(ctx, tx)
}
