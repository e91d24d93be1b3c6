package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"approval-chain/pkg/account"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type is the kind of money movement a transaction requests.
type Type string

const (
	TypeTransfer    Type = "TRANSFER"
	TypeWithdrawal  Type = "WITHDRAWAL"
	TypeDeposit     Type = "DEPOSIT"
	TypePayment     Type = "PAYMENT"
	TypeLoanPayment Type = "LOAN_PAYMENT"
	TypeInterest    Type = "INTEREST"
	TypeFee         Type = "FEE"
)

// Debits reports whether the type takes money out of the source account.
func (t Type) Debits() bool {
	switch t {
	case TypeTransfer, TypeWithdrawal, TypePayment, TypeLoanPayment, TypeFee:
		return true
	}
	return false
}

// Credits reports whether the type puts money into the target account.
func (t Type) Credits() bool {
	switch t {
	case TypeTransfer, TypeDeposit, TypeInterest:
		return true
	}
	return false
}

// Status is a state in the transaction lifecycle.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SystemUser is stamped as the approver when a transaction completes without a manager.
const SystemUser int64 = 0

var (
	// ErrInvalidStateTransition is returned for any transition out of a terminal state
	ErrInvalidStateTransition = errors.New("transaction: invalid state transition")

	// ErrInvalidState is returned when an operation requires a different non-terminal state
	ErrInvalidState = errors.New("transaction: invalid state")
)

// IsInvalidTransition checks if the error was caused by a terminal transaction.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition)
}

// AuditEntry is one handler decision.
type AuditEntry struct {
	Handler string
	Message string
	At      time.Time
}

// Transaction is a requested money movement together with its approval trail.
type Transaction struct {
	ID        int64
	Reference string
	Type      Type
	Amount    decimal.Decimal
	From      *account.Account
	To        *account.Account
	// PayeeReference identifies an external payee for PAYMENT transactions.
	PayeeReference string
	Description    string

	Status        Status
	FailureReason string

	InitiatedBy int64
	// ApprovedBy is nil until the transaction completes or is rejected.
	ApprovedBy *int64

	CreatedAt   time.Time
	ProcessedAt *time.Time

	audit []AuditEntry
	clock func() time.Time
}

// New creates a PENDING transaction.
func New(typ Type, amount decimal.Decimal, from, to *account.Account, initiatedBy int64) *Transaction {
	tx := &Transaction{
		Type:        typ,
		Amount:      amount,
		From:        from,
		To:          to,
		Status:      StatusPending,
		InitiatedBy: initiatedBy,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	tx.CreatedAt = tx.now()
	return tx
}

// NewReference generates a unique transaction reference.
func NewReference() string {
	return "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// WithClock replaces the time source used for audit entries and stamps.
func (t *Transaction) WithClock(clock func() time.Time) *Transaction {
	t.clock = clock
	t.CreatedAt = t.now()
	return t
}

// UseClock replaces the time source without touching CreatedAt. It is used
// for transactions loaded from storage.
func (t *Transaction) UseClock(clock func() time.Time) *Transaction {
	t.clock = clock
	return t
}

func (t *Transaction) now() time.Time {
	if t.clock == nil {
		return time.Now().UTC()
	}
	return t.clock()
}

// Record appends an audit entry.
func (t *Transaction) Record(handler, message string) {
	t.audit = append(t.audit, AuditEntry{Handler: handler, Message: message, At: t.now()})
}

// Audit returns the audit log in append order.
func (t *Transaction) Audit() []AuditEntry {
	out := make([]AuditEntry, len(t.audit))
	copy(out, t.audit)
	return out
}

// RestoreAudit replaces the audit log when loading from storage.
func (t *Transaction) RestoreAudit(entries []AuditEntry) {
	t.audit = append([]AuditEntry(nil), entries...)
}

// IsTerminal reports whether the transaction reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// RequiresApproval reports whether the transaction waits for a manager.
func (t *Transaction) RequiresApproval() bool {
	return t.Status == StatusPendingApproval
}

func (t *Transaction) transition(to Status) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

func (t *Transaction) stamp() {
	at := t.now()
	t.ProcessedAt = &at
}

// Complete marks the transaction COMPLETED and stamps approver.
func (t *Transaction) Complete(approver int64) error {
	if err := t.transition(StatusCompleted); err != nil {
		return err
	}
	t.ApprovedBy = &approver
	t.stamp()
	return nil
}

// Fail marks the transaction FAILED with reason.
func (t *Transaction) Fail(reason string) error {
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	t.FailureReason = reason
	t.stamp()
	return nil
}

// Reject is a manager decision to fail a transaction.
func (t *Transaction) Reject(manager int64, reason string) error {
	if err := t.Fail("Rejected by manager: " + reason); err != nil {
		return err
	}
	t.ApprovedBy = &manager
	return nil
}

// FlagForApproval parks the transaction for a manager decision. Flagging a
// transaction that already awaits approval changes nothing.
func (t *Transaction) FlagForApproval() error {
	if t.Status == StatusPendingApproval {
		return nil
	}
	return t.transition(StatusPendingApproval)
}

// Cancel marks the transaction CANCELLED on behalf of its initiator.
func (t *Transaction) Cancel(reason string) error {
	if err := t.transition(StatusCancelled); err != nil {
		return err
	}
	t.FailureReason = "Cancelled by user: " + reason
	t.stamp()
	return nil
}

// Accounts returns the non-nil accounts the transaction touches.
func (t *Transaction) Accounts() []*account.Account {
	var out []*account.Account
	if t.From != nil {
		out = append(out, t.From)
	}
	if t.To != nil {
		out = append(out, t.To)
	}
	return out
}

// Clone returns a copy with its own audit log. Accounts are shared.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.audit = t.Audit()
	if t.ApprovedBy != nil {
		v := *t.ApprovedBy
		c.ApprovedBy = &v
	}
	if t.ProcessedAt != nil {
		v := *t.ProcessedAt
		c.ProcessedAt = &v
	}
	return &c
}

// String returns a short description of the transaction.
func (t *Transaction) String() string {
	ref := t.Reference
	if ref == "" {
		ref = "unsaved"
	}
	return fmt.Sprintf("%s %s %s [%s]", ref, t.Type, t.Amount.StringFixed(2), t.Status)
}
