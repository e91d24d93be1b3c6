package banking

import (
	"errors"
	"fmt"
	"strings"

	"approval-chain/pkg/account"
	"approval-chain/pkg/lock"
	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"
)

// Service errors. Account and transaction errors are re-exported so callers
// can match every failure against this package.
var (
	// ErrNotFound is returned when a transaction, account or user does not exist
	ErrNotFound = store.ErrNotFound

	// ErrSecurityViolation is returned when the acting user may not perform the operation
	ErrSecurityViolation = errors.New("banking: security violation")

	// ErrAlreadyGrouped is returned when an account already belongs to another group
	ErrAlreadyGrouped = errors.New("banking: account already belongs to a group")

	ErrInvalidAmount          = account.ErrInvalidAmount
	ErrInsufficientFunds      = account.ErrInsufficientFunds
	ErrSelfTransfer           = account.ErrSelfTransfer
	ErrUnsupportedOperation   = account.ErrUnsupportedOperation
	ErrCapacityExceeded       = account.ErrCapacityExceeded
	ErrMemberNotFound         = account.ErrMemberNotFound
	ErrNullChild              = account.ErrNullChild
	ErrMonthlyLimitExceeded   = account.ErrMonthlyLimitExceeded
	ErrInvalidState           = transaction.ErrInvalidState
	ErrInvalidStateTransition = transaction.ErrInvalidStateTransition
)

// IsNotFound checks if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSecurityViolation checks if the error is a refused role or ownership check.
func IsSecurityViolation(err error) bool {
	return errors.Is(err, ErrSecurityViolation)
}

// IsInvalidState checks if the error is a state precondition failure, for
// either a terminal or a non-terminal transaction.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrInvalidStateTransition)
}

// ClassifyError returns a string classification of the error type for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSecurityViolation):
		return "security_violation"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrSelfTransfer):
		return "self_transfer"
	case errors.Is(err, ErrUnsupportedOperation):
		return "unsupported_operation"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrMemberNotFound):
		return "member_not_found"
	case errors.Is(err, ErrNullChild):
		return "null_child"
	case errors.Is(err, ErrAlreadyGrouped):
		return "already_grouped"
	case errors.Is(err, ErrMonthlyLimitExceeded):
		return "monthly_limit_exceeded"
	case errors.Is(err, lock.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, store.ErrDuplicate):
		return "duplicate"
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "connection"), strings.Contains(msg, "dial"):
			return "connection"
		case strings.Contains(msg, "sql"), strings.Contains(msg, "database"):
			return "backend"
		default:
			return "other"
		}
	}
}

func invalidState(tx *transaction.Transaction, op string) error {
	if tx.IsTerminal() {
		return fmt.Errorf("%w: cannot %s transaction %s in state %s",
			ErrInvalidStateTransition, op, tx.Reference, tx.Status)
	}
	return fmt.Errorf("%w: cannot %s transaction %s in state %s",
		ErrInvalidState, op, tx.Reference, tx.Status)
}
