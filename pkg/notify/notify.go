// Package notify delivers transaction events to customers and operators.
// Delivery is best effort: the Dispatcher queues events and hands them to a
// Notifier on a small worker pool, so a slow or failing channel never holds
// up transaction processing.
package notify

import (
	"context"
	"time"

	"approval-chain/pkg/logging"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kind names what happened to a transaction.
type Kind string

const (
	KindTransferCompleted   Kind = "transfer_completed"
	KindWithdrawalCompleted Kind = "withdrawal_completed"
	KindDepositCompleted    Kind = "deposit_completed"
)

// Event is a notification about a settled transaction.
type Event struct {
	Kind          Kind
	TransactionID int64
	Reference     string
	Amount        decimal.Decimal
	FromAccount   string
	ToAccount     string
	Description   string
	OccurredAt    time.Time
}

// EventFor builds the event for tx. It returns false when tx does not warrant
// a notification: only completed transfers, withdrawals and deposits do.
func EventFor(tx *transaction.Transaction) (Event, bool) {
	if tx == nil || tx.Status != transaction.StatusCompleted {
		return Event{}, false
	}

	var kind Kind
	switch tx.Type {
	case transaction.TypeTransfer:
		kind = KindTransferCompleted
	case transaction.TypeWithdrawal:
		kind = KindWithdrawalCompleted
	case transaction.TypeDeposit:
		kind = KindDepositCompleted
	default:
		return Event{}, false
	}

	ev := Event{
		Kind:          kind,
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Amount:        tx.Amount,
		Description:   tx.Description,
		OccurredAt:    tx.CreatedAt,
	}
	if tx.ProcessedAt != nil {
		ev.OccurredAt = *tx.ProcessedAt
	}
	if tx.From != nil {
		ev.FromAccount = tx.From.Number
	}
	if tx.To != nil {
		ev.ToAccount = tx.To.Number
	}
	return ev, true
}

// Notifier delivers one event over one channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Name() string
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Name implements Notifier.
func (f NotifierFunc) Name() string { return "func" }

// LogNotifier writes events to a structured log. It is the default channel
// when no external delivery is configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses the global one.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Global().Named("notify")
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("transaction notification",
		zap.String("kind", string(ev.Kind)),
		zap.Int64("transaction_id", ev.TransactionID),
		zap.String("reference", ev.Reference),
		zap.String("amount", ev.Amount.StringFixed(2)),
		zap.String("from", ev.FromAccount),
		zap.String("to", ev.ToAccount),
		zap.Time("occurred_at", ev.OccurredAt),
	)
	return nil
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }
