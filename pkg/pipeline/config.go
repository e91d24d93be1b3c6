package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the thresholds used by the approval handlers.
type Config struct {
	// AutoApprovalThreshold is the largest amount completed without a manager.
	AutoApprovalThreshold decimal.Decimal `mapstructure:"auto_approval_threshold"`

	// ManagerReviewThreshold is the amount above which ManagerApproval parks a transaction.
	ManagerReviewThreshold decimal.Decimal `mapstructure:"manager_review_threshold"`

	// LargeAmountThreshold is the amount above which FraudDetection flags a transaction.
	LargeAmountThreshold decimal.Decimal `mapstructure:"large_amount_threshold"`

	// AMLReportingThreshold is the amount above which AMLCompliance records a reportable amount.
	AMLReportingThreshold decimal.Decimal `mapstructure:"aml_reporting_threshold"`

	// DailyWithdrawalThreshold is the withdrawal amount above which LimitCheck adds a note.
	DailyWithdrawalThreshold decimal.Decimal `mapstructure:"daily_withdrawal_threshold"`

	// VelocityLimit is the number of completed transactions within VelocityWindow
	// that makes FraudDetection flag the next one.
	VelocityLimit int `mapstructure:"velocity_limit"`

	// VelocityWindow is the trailing window for VelocityLimit.
	VelocityWindow time.Duration `mapstructure:"velocity_window"`

	// SimpleAutoApprovalThreshold is used by the reduced three-handler pipeline.
	SimpleAutoApprovalThreshold decimal.Decimal `mapstructure:"simple_auto_approval_threshold"`

	// SmallTransactionThreshold is used by the pipeline without manager approval.
	SmallTransactionThreshold decimal.Decimal `mapstructure:"small_transaction_threshold"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		AutoApprovalThreshold:       decimal.NewFromInt(5000),
		ManagerReviewThreshold:      decimal.NewFromInt(10000),
		LargeAmountThreshold:        decimal.NewFromInt(10000),
		AMLReportingThreshold:       decimal.NewFromInt(50000),
		DailyWithdrawalThreshold:    decimal.NewFromInt(5000),
		VelocityLimit:               10,
		VelocityWindow:              time.Hour,
		SimpleAutoApprovalThreshold: decimal.NewFromInt(1000),
		SmallTransactionThreshold:   decimal.NewFromInt(10000),
	}
}

// Validate checks that every threshold is usable.
func (c Config) Validate() error {
	thresholds := map[string]decimal.Decimal{
		"auto_approval_threshold":        c.AutoApprovalThreshold,
		"manager_review_threshold":       c.ManagerReviewThreshold,
		"large_amount_threshold":         c.LargeAmountThreshold,
		"aml_reporting_threshold":        c.AMLReportingThreshold,
		"daily_withdrawal_threshold":     c.DailyWithdrawalThreshold,
		"simple_auto_approval_threshold": c.SimpleAutoApprovalThreshold,
		"small_transaction_threshold":    c.SmallTransactionThreshold,
	}
	for name, v := range thresholds {
		if !v.IsPositive() {
			return fmt.Errorf("pipeline: %s must be positive, got %s", name, v)
		}
	}
	if c.VelocityLimit <= 0 {
		return errors.New("pipeline: velocity_limit must be positive")
	}
	if c.VelocityWindow <= 0 {
		return errors.New("pipeline: velocity_window must be positive")
	}
	return nil
}

// WithAutoApprovalThreshold returns a copy of the config with the specified auto-approval threshold.
func (c Config) WithAutoApprovalThreshold(v decimal.Decimal) Config {
	c.AutoApprovalThreshold = v
	return c
}

// WithManagerReviewThreshold returns a copy of the config with the specified review threshold.
func (c Config) WithManagerReviewThreshold(v decimal.Decimal) Config {
	c.ManagerReviewThreshold = v
	return c
}

// WithVelocity returns a copy of the config with the specified velocity rule.
func (c Config) WithVelocity(limit int, window time.Duration) Config {
	c.VelocityLimit = limit
	c.VelocityWindow = window
	return c
}
