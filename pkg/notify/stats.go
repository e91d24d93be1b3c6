package notify

import "errors"

// Stats provides statistics about dispatcher operations.
type Stats struct {
	// QueueDepth is the current number of pending events in the queue
	QueueDepth int

	// Dropped is the total number of events dropped due to backpressure
	Dropped int64

	// Enqueued is the total number of events accepted
	Enqueued int64

	// Delivered is the total number of events the notifier accepted
	Delivered int64

	// Failed is the total number of deliveries that returned an error
	Failed int64
}

// Errors returned by dispatcher operations.
var (
	// ErrQueueFull is returned when the queue is full and MaxWaitTime exceeded
	ErrQueueFull = errors.New("notify: queue full, event dropped")

	// ErrDispatcherClosed is returned when dispatching to a closed dispatcher
	ErrDispatcherClosed = errors.New("notify: dispatcher is closed")

	// ErrFlushTimeout is returned when Flush() times out waiting for the queue to drain
	ErrFlushTimeout = errors.New("notify: flush timeout exceeded")
)
