package prometheus

import (
	"time"

	"approval-chain/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Pipeline
	handlerDecisions *prometheus.CounterVec
	handlerLatency   *prometheus.HistogramVec
	pipelineRuns     *prometheus.CounterVec
	pipelineLatency  *prometheus.HistogramVec
	outcomes         *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Notification dispatcher
	queueDepth          *prometheus.GaugeVec
	droppedNotification *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	notifyLatency       *prometheus.HistogramVec

	// Account locks
	lockWaits   *prometheus.CounterVec
	lockLatency *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		handlerDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_decisions_total",
				Help:      "Total number of handler decisions per handler and decision",
			},
			[]string{"handler", "decision"},
		),
		handlerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Handler evaluation latency",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 15),
			},
			[]string{"handler"},
		),
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of pipeline runs per pipeline and result",
			},
			[]string{"pipeline", "result"},
		),
		pipelineLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "End to end pipeline latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"pipeline"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of processed transactions per type and final status",
			},
			[]string{"type", "status"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_queue_depth",
				Help:      "Current notification dispatcher queue depth",
			},
			[]string{"channel"},
		),
		droppedNotification: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dropped_total",
				Help:      "Total number of notifications dropped by backpressure",
			},
			[]string{"channel"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of notification deliveries per status",
			},
			[]string{"channel", "status"},
		),
		notifyLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_duration_seconds",
				Help:      "Notification delivery latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"channel"},
		),
		lockWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_lock_waits_total",
				Help:      "Total number of account lock acquisitions per backend and result",
			},
			[]string{"backend", "result"},
		),
		lockLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "account_lock_wait_seconds",
				Help:      "Time spent waiting for account locks",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"backend"},
		),
	}
}

// Register registers all collectors with the given registerer.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.handlerDecisions,
		pc.handlerLatency,
		pc.pipelineRuns,
		pc.pipelineLatency,
		pc.outcomes,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedNotification,
		pc.notifications,
		pc.notifyLatency,
		pc.lockWaits,
		pc.lockLatency,
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordHandler records one handler decision.
func (pc *PrometheusCollector) RecordHandler(handler string, decision string, duration time.Duration) {
	pc.handlerDecisions.WithLabelValues(handler, decision).Inc()
	pc.handlerLatency.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordPipeline records one pipeline run.
func (pc *PrometheusCollector) RecordPipeline(pipeline string, approved bool, duration time.Duration) {
	result := "rejected"
	if approved {
		result = "approved"
	}
	pc.pipelineRuns.WithLabelValues(pipeline, result).Inc()
	pc.pipelineLatency.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// RecordOutcome records the final status of a processed transaction.
func (pc *PrometheusCollector) RecordOutcome(txType string, status string) {
	pc.outcomes.WithLabelValues(txType, status).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordQueueDepth records the current dispatcher queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(channel string, depth int) {
	pc.queueDepth.WithLabelValues(channel).Set(float64(depth))
}

// RecordNotificationDropped records a dropped notification.
func (pc *PrometheusCollector) RecordNotificationDropped(channel string) {
	pc.droppedNotification.WithLabelValues(channel).Inc()
}

// RecordNotification records a notification delivery.
func (pc *PrometheusCollector) RecordNotification(channel string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.notifications.WithLabelValues(channel, status).Inc()
	pc.notifyLatency.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordLockWait records an account lock acquisition.
func (pc *PrometheusCollector) RecordLockWait(backend string, acquired bool, duration time.Duration) {
	result := "acquired"
	if !acquired {
		result = "timeout"
	}
	pc.lockWaits.WithLabelValues(backend, result).Inc()
	pc.lockLatency.WithLabelValues(backend).Observe(duration.Seconds())
}
