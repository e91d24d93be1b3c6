package memory

import (
	"sync"
	"time"

	"approval-chain/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	handlers map[string]*HandlerMetrics
	channels map[string]*ChannelMetrics
	circuits map[string]metrics.CircuitState

	pipelineRuns     int64
	pipelineApproved int64
	outcomes         map[string]int64
	lockWaits        int64
	lockTimeouts     int64
}

// HandlerMetrics holds metrics for a single pipeline handler.
type HandlerMetrics struct {
	Invocations int64
	// Decisions counts invocations by decision label.
	Decisions map[string]int64
	Latencies []time.Duration
}

// ChannelMetrics holds notification metrics for a single channel.
type ChannelMetrics struct {
	Sent       int64
	Failed     int64
	Dropped    int64
	QueueDepth int
	Latencies  []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		handlers: make(map[string]*HandlerMetrics),
		channels: make(map[string]*ChannelMetrics),
		circuits: make(map[string]metrics.CircuitState),
		outcomes: make(map[string]int64),
	}
}

// handler returns the HandlerMetrics for name. Callers hold mu.
func (mc *MemoryCollector) handler(name string) *HandlerMetrics {
	hm, ok := mc.handlers[name]
	if !ok {
		hm = &HandlerMetrics{Decisions: make(map[string]int64)}
		mc.handlers[name] = hm
	}
	return hm
}

// channel returns the ChannelMetrics for name. Callers hold mu.
func (mc *MemoryCollector) channel(name string) *ChannelMetrics {
	cm, ok := mc.channels[name]
	if !ok {
		cm = &ChannelMetrics{}
		mc.channels[name] = cm
	}
	return cm
}

// RecordHandler records one handler invocation.
func (mc *MemoryCollector) RecordHandler(handler string, decision string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	hm := mc.handler(handler)
	hm.Invocations++
	hm.Decisions[decision]++
	hm.Latencies = append(hm.Latencies, duration)
}

// RecordPipeline records one pipeline run.
func (mc *MemoryCollector) RecordPipeline(pipeline string, approved bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.pipelineRuns++
	if approved {
		mc.pipelineApproved++
	}
}

// RecordOutcome records the final status of a processed transaction.
func (mc *MemoryCollector) RecordOutcome(txType string, status string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.outcomes[txType+"/"+status]++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.circuits[name] = state
}

// RecordQueueDepth records the current dispatcher queue depth.
func (mc *MemoryCollector) RecordQueueDepth(channel string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.channel(channel).QueueDepth = depth
}

// RecordNotificationDropped records a notification dropped by backpressure.
func (mc *MemoryCollector) RecordNotificationDropped(channel string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.channel(channel).Dropped++
}

// RecordNotification records a delivery attempt.
func (mc *MemoryCollector) RecordNotification(channel string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	cm := mc.channel(channel)
	if success {
		cm.Sent++
	} else {
		cm.Failed++
	}
	cm.Latencies = append(cm.Latencies, duration)
}

// RecordLockWait records an account lock acquisition attempt.
func (mc *MemoryCollector) RecordLockWait(backend string, acquired bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.lockWaits++
	if !acquired {
		mc.lockTimeouts++
	}
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Handlers         map[string]HandlerMetrics
	Channels         map[string]ChannelMetrics
	Circuits         map[string]metrics.CircuitState
	PipelineRuns     int64
	PipelineApproved int64
	Outcomes         map[string]int64
	LockWaits        int64
	LockTimeouts     int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		Handlers:         make(map[string]HandlerMetrics, len(mc.handlers)),
		Channels:         make(map[string]ChannelMetrics, len(mc.channels)),
		Circuits:         make(map[string]metrics.CircuitState, len(mc.circuits)),
		PipelineRuns:     mc.pipelineRuns,
		PipelineApproved: mc.pipelineApproved,
		Outcomes:         make(map[string]int64, len(mc.outcomes)),
		LockWaits:        mc.lockWaits,
		LockTimeouts:     mc.lockTimeouts,
	}
	for name, hm := range mc.handlers {
		decisions := make(map[string]int64, len(hm.Decisions))
		for k, v := range hm.Decisions {
			decisions[k] = v
		}
		c := *hm
		c.Decisions = decisions
		s.Handlers[name] = c
	}
	for name, cm := range mc.channels {
		s.Channels[name] = *cm
	}
	for name, st := range mc.circuits {
		s.Circuits[name] = st
	}
	for k, v := range mc.outcomes {
		s.Outcomes[k] = v
	}
	return s
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.handlers = make(map[string]*HandlerMetrics)
	mc.channels = make(map[string]*ChannelMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.outcomes = make(map[string]int64)
	mc.pipelineRuns = 0
	mc.pipelineApproved = 0
	mc.lockWaits = 0
	mc.lockTimeouts = 0
}

// GetHandlerMetrics returns a copy of the metrics for a handler, or nil.
func (mc *MemoryCollector) GetHandlerMetrics(handler string) *HandlerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if hm, exists := mc.handlers[handler]; exists {
		copy := *hm
		return &copy
	}
	return nil
}

// GetChannelMetrics returns a copy of the metrics for a notification channel, or nil.
func (mc *MemoryCollector) GetChannelMetrics(channel string) *ChannelMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if cm, exists := mc.channels[channel]; exists {
		copy := *cm
		return &copy
	}
	return nil
}

// Outcome returns how many transactions of txType ended in status.
func (mc *MemoryCollector) Outcome(txType, status string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.outcomes[txType+"/"+status]
}

// CircuitState returns the last recorded state of a circuit breaker.
func (mc *MemoryCollector) CircuitState(name string) metrics.CircuitState {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.circuits[name]
}
