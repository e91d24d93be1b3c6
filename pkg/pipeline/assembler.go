package pipeline

import (
	"approval-chain/pkg/account"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/metrics"
	"approval-chain/pkg/transaction"
)

// Assembler builds pipelines from a Config. It holds no request state, so a
// single Assembler serves every request.
type Assembler struct {
	config  Config
	counter CompletedCounter
	clock   Clock
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// AssemblerOption customizes an Assembler.
type AssemblerOption func(*Assembler)

// WithClock sets the time source used by time-dependent handlers.
func WithClock(clock Clock) AssemblerOption {
	return func(a *Assembler) { a.clock = clock }
}

// WithMetrics sets the metrics collector given to every pipeline.
func WithMetrics(m metrics.MetricsCollector) AssemblerOption {
	return func(a *Assembler) { a.metrics = m }
}

// WithLogger sets the logger given to every pipeline.
func WithLogger(l *logging.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler validates config and returns an Assembler. counter backs the
// velocity rule of FraudDetection.
func NewAssembler(config Config, counter CompletedCounter, opts ...AssemblerOption) (*Assembler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Assembler{
		config:  config,
		counter: counter,
		clock:   systemClock,
		metrics: metrics.NoOpCollector{},
		logger:  logging.Global().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the thresholds the assembler was built with.
func (a *Assembler) Config() Config {
	return a.config
}

// Approval returns the full six-handler pipeline.
func (a *Assembler) Approval() *Pipeline {
	c := a.config
	return a.build("approval",
		NewBalanceCheck(),
		NewFraudDetection(a.counter, c.VelocityLimit, c.VelocityWindow, c.LargeAmountThreshold, a.clock),
		NewAMLCompliance(c.AMLReportingThreshold),
		NewLimitCheck(c.DailyWithdrawalThreshold, a.clock),
		NewAutoApproval(c.AutoApprovalThreshold),
		NewManagerApproval(c.ManagerReviewThreshold),
	)
}

// Simple returns a three-handler pipeline with a low auto-approval threshold.
func (a *Assembler) Simple() *Pipeline {
	return a.build("simple",
		NewBalanceCheck(),
		NewAutoApproval(a.config.SimpleAutoApprovalThreshold),
		NewManagerApproval(a.config.ManagerReviewThreshold),
	)
}

// SmallTransaction returns a pipeline without manager approval. Amounts above
// its threshold finish the run still PENDING.
func (a *Assembler) SmallTransaction() *Pipeline {
	return a.build("small",
		NewBalanceCheck(),
		NewLimitCheck(a.config.DailyWithdrawalThreshold, a.clock),
		NewAutoApproval(a.config.SmallTransactionThreshold),
	)
}

func (a *Assembler) build(name string, handlers ...Handler) *Pipeline {
	p, err := New(handlers...)
	if err != nil {
		// Unreachable: the handler lists above are fixed and non-empty.
		panic(err)
	}
	return p.WithName(name).WithMetrics(a.metrics).WithLogger(a.logger)
}

// Cause maps the failure reason of a transaction rejected inside the
// pipeline to its error. It returns nil for other transactions.
func Cause(tx *transaction.Transaction) error {
	if tx.Status != transaction.StatusFailed {
		return nil
	}
	switch tx.FailureReason {
	case ReasonInsufficientFunds:
		return account.ErrInsufficientFunds
	case ReasonMonthlyLimit:
		return account.ErrMonthlyLimitExceeded
	}
	return nil
}
