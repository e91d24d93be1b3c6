package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
)

// Failure reasons stored on transactions rejected inside the pipeline.
const (
	ReasonInsufficientFunds = "Insufficient funds"
	ReasonMonthlyLimit      = "Monthly withdrawal limit exceeded"
)

// Handler names as they appear in audit entries and metrics.
const (
	NameBalanceCheck    = "BalanceCheck"
	NameFraudDetection  = "FraudDetection"
	NameAMLCompliance   = "AMLCompliance"
	NameLimitCheck      = "LimitCheck"
	NameAutoApproval    = "AutoApproval"
	NameManagerApproval = "ManagerApproval"
)

// CompletedCounter counts completed transactions debiting an account.
type CompletedCounter interface {
	CountCompletedSince(ctx context.Context, accountID int64, since time.Time) (int, error)
}

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// BalanceCheck rejects debits the source account cannot cover.
type BalanceCheck struct{}

// NewBalanceCheck creates a BalanceCheck handler.
func NewBalanceCheck() *BalanceCheck {
	return &BalanceCheck{}
}

// Name implements Handler.
func (h *BalanceCheck) Name() string { return NameBalanceCheck }

// Handle implements Handler.
func (h *BalanceCheck) Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error) {
	if tx.Type == transaction.TypeDeposit || tx.From == nil {
		tx.Record(h.Name(), "Balance check skipped: no source account is debited")
		return Continue, nil
	}

	from := tx.From
	if !from.CanWithdraw(tx.Amount) {
		tx.Record(h.Name(), fmt.Sprintf("Insufficient funds: account %s (%s) has %s available, requested %s",
			from.Number, from.Status, money(from.AvailableBalance()), money(tx.Amount)))
		if err := tx.Fail(ReasonInsufficientFunds); err != nil {
			return Reject, err
		}
		return Reject, nil
	}

	msg := fmt.Sprintf("Balance verified: %s available covers %s",
		money(from.AvailableBalance()), money(tx.Amount))
	if from.BelowMinimumAfter(tx.Amount) {
		msg += fmt.Sprintf("; balance after debit %s falls below minimum %s",
			money(from.TotalBalance().Sub(tx.Amount)), money(from.MinimumBalance.Decimal))
	}
	tx.Record(h.Name(), msg)
	return Continue, nil
}

// FraudDetection flags high-velocity or large transactions for manager
// approval. It never fails a transaction.
type FraudDetection struct {
	counter     CompletedCounter
	limit       int
	window      time.Duration
	largeAmount decimal.Decimal
	clock       Clock
}

// NewFraudDetection creates a FraudDetection handler.
func NewFraudDetection(counter CompletedCounter, limit int, window time.Duration, largeAmount decimal.Decimal, clock Clock) *FraudDetection {
	if clock == nil {
		clock = systemClock
	}
	return &FraudDetection{
		counter:     counter,
		limit:       limit,
		window:      window,
		largeAmount: largeAmount,
		clock:       clock,
	}
}

// Name implements Handler.
func (h *FraudDetection) Name() string { return NameFraudDetection }

// Handle implements Handler.
func (h *FraudDetection) Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error) {
	var indicators, notes []string

	if tx.From != nil && h.counter != nil {
		since := h.clock().Add(-h.window)
		n, err := h.counter.CountCompletedSince(ctx, tx.From.ID, since)
		if err != nil {
			tx.Record(h.Name(), "Fraud check incomplete: velocity lookup failed")
			return Continue, fmt.Errorf("velocity lookup for account %s: %w", tx.From.Number, err)
		}
		if n >= h.limit {
			indicators = append(indicators, fmt.Sprintf("%d completed transactions in the last %s", n, h.window))
		}
	}

	if tx.Amount.GreaterThan(h.largeAmount) {
		indicators = append(indicators, fmt.Sprintf("amount %s exceeds %s", money(tx.Amount), money(h.largeAmount)))
	}

	// Hours 23 through 05 UTC are unusual.
	at := tx.CreatedAt.UTC()
	if hour := at.Hour(); hour < 6 || hour > 22 {
		notes = append(notes, fmt.Sprintf("initiated at unusual hour %02d:%02d", hour, at.Minute()))
	}

	if len(indicators) == 0 {
		msg := "No fraud indicators"
		if len(notes) > 0 {
			msg += "; " + strings.Join(notes, "; ")
		}
		tx.Record(h.Name(), msg)
		return Continue, nil
	}

	tx.Record(h.Name(), "Flagged for manager approval: "+strings.Join(append(indicators, notes...), "; "))
	if err := tx.FlagForApproval(); err != nil {
		return Continue, err
	}
	return Continue, nil
}

// AMLCompliance records anti-money-laundering observations. It never changes status.
type AMLCompliance struct {
	reportingThreshold decimal.Decimal
}

// NewAMLCompliance creates an AMLCompliance handler.
func NewAMLCompliance(reportingThreshold decimal.Decimal) *AMLCompliance {
	return &AMLCompliance{reportingThreshold: reportingThreshold}
}

// Name implements Handler.
func (h *AMLCompliance) Name() string { return NameAMLCompliance }

// Handle implements Handler.
func (h *AMLCompliance) Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error) {
	var observations []string

	if tx.Amount.GreaterThan(h.reportingThreshold) {
		observations = append(observations, fmt.Sprintf("amount %s above reporting threshold %s",
			money(tx.Amount), money(h.reportingThreshold)))
	}

	fixed := money(tx.Amount)
	if cents := fixed[len(fixed)-3:]; cents == ".00" || cents == ".99" {
		observations = append(observations, fmt.Sprintf("suspicious amount pattern %s", fixed))
	}

	if strings.Contains(strings.ToLower(tx.Description), "international") {
		observations = append(observations, "international transfer")
	}

	if len(observations) == 0 {
		tx.Record(h.Name(), "AML compliance verified")
	} else {
		tx.Record(h.Name(), "AML observations: "+strings.Join(observations, "; "))
	}
	return Continue, nil
}

// LimitCheck enforces the monthly withdrawal counter of savings accounts.
type LimitCheck struct {
	dailyThreshold decimal.Decimal
	clock          Clock
}

// NewLimitCheck creates a LimitCheck handler.
func NewLimitCheck(dailyThreshold decimal.Decimal, clock Clock) *LimitCheck {
	if clock == nil {
		clock = systemClock
	}
	return &LimitCheck{dailyThreshold: dailyThreshold, clock: clock}
}

// Name implements Handler.
func (h *LimitCheck) Name() string { return NameLimitCheck }

// Handle implements Handler.
func (h *LimitCheck) Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error) {
	if tx.Type != transaction.TypeWithdrawal || tx.From == nil {
		tx.Record(h.Name(), "Limit check not applicable")
		return Continue, nil
	}

	from := tx.From
	now := h.clock()
	if from.Kind == account.KindSavings && !from.CanWithdrawThisMonth(now) {
		tx.Record(h.Name(), fmt.Sprintf("Monthly withdrawal limit reached: %d of %d used on account %s",
			from.WithdrawalsThisMonth, from.MonthlyWithdrawalLimit, from.Number))
		if err := tx.Fail(ReasonMonthlyLimit); err != nil {
			return Reject, err
		}
		return Reject, nil
	}

	msg := "Withdrawal limits verified"
	if from.Kind == account.KindSavings {
		msg += fmt.Sprintf(": %d withdrawals left this month", from.RemainingWithdrawals(now))
	}
	if tx.Amount.GreaterThan(h.dailyThreshold) {
		msg += fmt.Sprintf("; amount %s exceeds daily withdrawal guideline %s", money(tx.Amount), money(h.dailyThreshold))
	}
	tx.Record(h.Name(), msg)
	return Continue, nil
}

// AutoApproval completes transactions at or below its threshold.
type AutoApproval struct {
	threshold decimal.Decimal
}

// NewAutoApproval creates an AutoApproval handler.
func NewAutoApproval(threshold decimal.Decimal) *AutoApproval {
	return &AutoApproval{threshold: threshold}
}

// Name implements Handler.
func (h *AutoApproval) Name() string { return NameAutoApproval }

// Threshold returns the auto-approval threshold.
func (h *AutoApproval) Threshold() decimal.Decimal { return h.threshold }

// Handle implements Handler.
func (h *AutoApproval) Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error) {
	within := tx.Amount.LessThanOrEqual(h.threshold)

	switch {
	case within && (tx.Status == transaction.StatusPending || tx.Status == transaction.StatusPendingApproval):
		prefix := "Auto-approved"
		if tx.Status == transaction.StatusPendingApproval {
			prefix = "Auto-approved flagged transaction"
		}
		tx.Record(h.Name(), fmt.Sprintf("%s: %s within threshold %s", prefix, money(tx.Amount), money(h.threshold)))
		if err := tx.Complete(transaction.SystemUser); err != nil {
			return Reject, err
		}
		return Approve, nil

	case tx.Status == transaction.StatusPendingApproval:
		tx.Record(h.Name(), fmt.Sprintf("Requires manager approval: %s exceeds threshold %s",
			money(tx.Amount), money(h.threshold)))
		return Continue, nil

	default:
		tx.Record(h.Name(), fmt.Sprintf("Not auto-approved: %s exceeds threshold %s",
			money(tx.Amount), money(h.threshold)))
		return Continue, nil
	}
}

// ManagerApproval is the last handler of the full pipeline. It parks large
// or flagged transactions for a manager and completes the rest.
type ManagerApproval struct {
	reviewThreshold decimal.Decimal
}

// NewManagerApproval creates a ManagerApproval handler.
func NewManagerApproval(reviewThreshold decimal.Decimal) *ManagerApproval {
	return &ManagerApproval{reviewThreshold: reviewThreshold}
}

// Name implements Handler.
func (h *ManagerApproval) Name() string { return NameManagerApproval }

// Handle implements Handler.
func (h *ManagerApproval) Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error) {
	switch {
	case tx.Status == transaction.StatusPendingApproval:
		tx.Record(h.Name(), "Awaiting manager review")
		return Approve, nil

	case tx.Amount.GreaterThan(h.reviewThreshold):
		tx.Record(h.Name(), fmt.Sprintf("Amount %s exceeds review threshold %s, awaiting manager approval",
			money(tx.Amount), money(h.reviewThreshold)))
		if err := tx.FlagForApproval(); err != nil {
			return Reject, err
		}
		return Approve, nil

	default:
		tx.Record(h.Name(), "Approved within manager review limits")
		if err := tx.Complete(transaction.SystemUser); err != nil {
			return Reject, err
		}
		return Approve, nil
	}
}
