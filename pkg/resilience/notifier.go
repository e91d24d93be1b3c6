// Package resilience guards notification channels with a circuit breaker and
// a per-call timeout, so an unreachable channel fails fast instead of tying
// up dispatcher workers.
package resilience

import (
	"context"
	"errors"
	"time"

	"approval-chain/pkg/logging"
	"approval-chain/pkg/metrics"
	"approval-chain/pkg/notify"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a call exceeds the configured timeout
	ErrTimeout = errors.New("resilience: operation timed out")
)

// IsCircuitOpen checks if the error is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout checks if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Notifier wraps a notify.Notifier with circuit breaker and timeout protection.
type Notifier struct {
	next    notify.Notifier
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewNotifier wraps next.
func NewNotifier(next notify.Notifier, config Config) *Notifier {
	return NewNotifierWithMetrics(next, config, metrics.NoOpCollector{})
}

// NewNotifierWithMetrics wraps next and reports circuit state changes.
func NewNotifierWithMetrics(next notify.Notifier, config Config, metricsCollector metrics.MetricsCollector) *Notifier {
	if metricsCollector == nil {
		metricsCollector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("resilience").Named(next.Name())

	rn := &Notifier{
		next:    next,
		timeout: config.Timeout,
		metrics: metricsCollector,
		logger:  logger,
	}

	logger.Info("resilient notifier initialized",
		zap.String("channel", next.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		// A caller giving up is not a channel failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("channel", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			rn.metrics.RecordCircuitState(name, state)
		},
	}

	rn.cb = gobreaker.NewCircuitBreaker(settings)
	return rn
}

// Name returns the name of the wrapped channel.
func (rn *Notifier) Name() string {
	return rn.next.Name()
}

// State returns the current circuit breaker state.
func (rn *Notifier) State() metrics.CircuitState {
	switch rn.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Notify delivers ev through the circuit breaker.
func (rn *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	start := time.Now()

	if rn.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rn.timeout)
		defer cancel()
	}

	_, err := rn.cb.Execute(func() (interface{}, error) {
		return nil, rn.next.Notify(ctx, ev)
	})
	if err == nil {
		return nil
	}

	duration := time.Since(start)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		rn.logger.Warn("circuit breaker open - notification rejected",
			zap.String("reference", ev.Reference),
		)
		return ErrCircuitOpen
	}
	if ctx.Err() == context.DeadlineExceeded {
		rn.logger.Warn("notification timeout",
			zap.String("reference", ev.Reference),
			zap.Duration("timeout", rn.timeout),
			zap.Duration("elapsed", duration),
		)
		return ErrTimeout
	}
	rn.logger.Error("notification failed",
		zap.String("reference", ev.Reference),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	return err
}
