package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting approval pipeline metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Pipeline
	RecordHandler(handler string, decision string, duration time.Duration)
	RecordPipeline(pipeline string, approved bool, duration time.Duration)
	RecordOutcome(txType string, status string)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// Notification dispatcher
	RecordQueueDepth(channel string, depth int)
	RecordNotificationDropped(channel string)
	RecordNotification(channel string, success bool, duration time.Duration)

	// Account locks
	RecordLockWait(backend string, acquired bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordHandler does nothing.
func (NoOpCollector) RecordHandler(handler string, decision string, duration time.Duration) {}

// RecordPipeline does nothing.
func (NoOpCollector) RecordPipeline(pipeline string, approved bool, duration time.Duration) {}

// RecordOutcome does nothing.
func (NoOpCollector) RecordOutcome(txType string, status string) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(channel string, depth int) {}

// RecordNotificationDropped does nothing.
func (NoOpCollector) RecordNotificationDropped(channel string) {}

// RecordNotification does nothing.
func (NoOpCollector) RecordNotification(channel string, success bool, duration time.Duration) {}

// RecordLockWait does nothing.
func (NoOpCollector) RecordLockWait(backend string, acquired bool, duration time.Duration) {}
