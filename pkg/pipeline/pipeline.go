package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"approval-chain/pkg/logging"
	"approval-chain/pkg/metrics"
	"approval-chain/pkg/transaction"

	"go.uber.org/zap"
)

// ErrEmptyPipeline is returned when a pipeline is built without handlers.
var ErrEmptyPipeline = errors.New("pipeline: at least one handler required")

// Decision is what a handler wants to happen after it ran.
type Decision int

const (
	// Continue passes the transaction to the next handler.
	Continue Decision = iota
	// Approve stops the pipeline with success.
	Approve
	// Reject stops the pipeline with failure. The handler has already marked
	// the transaction FAILED.
	Reject
)

// String returns the metrics label of the decision.
func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Handler inspects and possibly mutates a transaction. Every invocation
// appends exactly one audit entry. A non-nil error reports an infrastructure
// failure, not a business decision.
type Handler interface {
	Name() string
	Handle(ctx context.Context, tx *transaction.Transaction) (Decision, error)
}

// Result describes a finished pipeline run.
type Result struct {
	// Approved is false only when a handler rejected or failed.
	Approved bool
	// StoppedAt names the handler that ended the run, or "" if every handler continued.
	StoppedAt string
	// Executed is the number of handlers that ran.
	Executed int
}

// Pipeline runs handlers in a fixed order with early exit.
type Pipeline struct {
	name     string
	handlers []Handler
	metrics  metrics.MetricsCollector
	logger   *logging.Logger
}

// New creates a pipeline from an ordered list of handlers.
// Returns an error if no handlers are provided.
func New(handlers ...Handler) (*Pipeline, error) {
	if len(handlers) == 0 {
		return nil, ErrEmptyPipeline
	}
	for i, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("pipeline: handler %d is nil", i)
		}
	}

	hs := make([]Handler, len(handlers))
	copy(hs, handlers)

	return &Pipeline{
		name:     "custom",
		handlers: hs,
		metrics:  metrics.NoOpCollector{},
		logger:   logging.Global().Named("pipeline"),
	}, nil
}

// WithName sets the name used in logs and metrics.
func (p *Pipeline) WithName(name string) *Pipeline {
	p.name = name
	return p
}

// WithMetrics sets the metrics collector.
func (p *Pipeline) WithMetrics(m metrics.MetricsCollector) *Pipeline {
	if m != nil {
		p.metrics = m
	}
	return p
}

// WithLogger sets the logger.
func (p *Pipeline) WithLogger(l *logging.Logger) *Pipeline {
	if l != nil {
		p.logger = l
	}
	return p
}

// Run evaluates tx against each handler in order until one approves or
// rejects. Running off the end counts as success.
func (p *Pipeline) Run(ctx context.Context, tx *transaction.Transaction) (Result, error) {
	start := time.Now()
	result := Result{Approved: true}

	for _, h := range p.handlers {
		select {
		case <-ctx.Done():
			result.Approved = false
			p.metrics.RecordPipeline(p.name, false, time.Since(start))
			return result, ctx.Err()
		default:
		}

		handlerStart := time.Now()
		decision, err := h.Handle(ctx, tx)
		result.Executed++

		label := decision.String()
		if err != nil {
			label = "error"
		}
		p.metrics.RecordHandler(h.Name(), label, time.Since(handlerStart))

		if err != nil {
			result.Approved = false
			result.StoppedAt = h.Name()
			p.metrics.RecordPipeline(p.name, false, time.Since(start))
			p.logger.Error("handler failed",
				zap.String("pipeline", p.name),
				zap.String("handler", h.Name()),
				logging.Transaction(tx),
				zap.Error(err),
			)
			return result, fmt.Errorf("pipeline %s: handler %s: %w", p.name, h.Name(), err)
		}

		if decision == Continue {
			continue
		}

		result.StoppedAt = h.Name()
		result.Approved = decision == Approve
		break
	}

	p.metrics.RecordPipeline(p.name, result.Approved, time.Since(start))
	p.logger.Debug("pipeline finished",
		zap.String("pipeline", p.name),
		zap.Bool("approved", result.Approved),
		zap.String("stopped_at", result.StoppedAt),
		zap.Int("executed", result.Executed),
		logging.Transaction(tx),
	)

	return result, nil
}

// Handlers returns a copy of the handlers slice for inspection.
func (p *Pipeline) Handlers() []Handler {
	hs := make([]Handler, len(p.handlers))
	copy(hs, p.handlers)
	return hs
}

// Len returns the number of handlers in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.handlers)
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// String returns a string representation of the pipeline.
func (p *Pipeline) String() string {
	names := make([]string, len(p.handlers))
	for i, h := range p.handlers {
		names[i] = h.Name()
	}
	return fmt.Sprintf("pipeline %s(%d handlers): %s", p.name, len(p.handlers), strings.Join(names, " -> "))
}
