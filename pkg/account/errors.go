package account

import (
	"errors"
	"fmt"
)

// Account operation errors.
var (
	// ErrInvalidAmount is returned when an amount is zero or negative
	ErrInvalidAmount = errors.New("account: amount must be positive")

	// ErrInsufficientFunds is returned when a withdrawal exceeds the available
	// balance or the account is not active
	ErrInsufficientFunds = errors.New("account: insufficient funds or inactive account")

	// ErrSelfTransfer is returned when the source and target of a transfer are the same account
	ErrSelfTransfer = errors.New("account: cannot transfer to the same account")

	// ErrUnsupportedOperation is returned for composite operations on a leaf and vice versa
	ErrUnsupportedOperation = errors.New("account: unsupported operation")

	// ErrCapacityExceeded is returned when a group already holds its maximum number of members
	ErrCapacityExceeded = errors.New("account: group capacity exceeded")

	// ErrMemberNotFound is returned when an account number is not a direct member of a group
	ErrMemberNotFound = errors.New("account: member not found")

	// ErrNullChild is returned when a nil account is added to or removed from a group
	ErrNullChild = errors.New("account: child account is required")

	// ErrMonthlyLimitExceeded is returned when a savings account used all its withdrawals for the month
	ErrMonthlyLimitExceeded = errors.New("account: monthly withdrawal limit exceeded")
)

// IsInsufficientFunds checks if the error indicates a withdrawal was refused.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsUnsupported checks if the error indicates an operation on the wrong account variant.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedOperation)
}

func unsupported(op string, kind Kind) error {
	return fmt.Errorf("%w: %s on %s account", ErrUnsupportedOperation, op, kind)
}
