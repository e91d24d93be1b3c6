package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"approval-chain/pkg/logging"
	"approval-chain/pkg/metrics"

	"go.uber.org/zap"
)

// Dispatcher delivers events asynchronously through a worker pool and a
// bounded queue. Dispatch never blocks longer than MaxWaitTime.
type Dispatcher struct {
	notifier   Notifier
	queue      chan Event
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     Config
	metrics    metrics.MetricsCollector
	logger     *logging.Logger
	channel    string

	// Statistics (accessed atomically)
	dropped   int64
	enqueued  int64
	delivered int64
	failed    int64
	inflight  int64

	// closeMu keeps Close from cancelling while a Dispatch is sending.
	closeMu     sync.RWMutex
	closed      bool
	closeOnce   sync.Once
	depthTicker *time.Ticker
	depthStop   chan struct{}
}

// NewDispatcher creates a dispatcher for notifier. The dispatcher starts
// immediately and must be closed with Close().
func NewDispatcher(notifier Notifier, config Config) *Dispatcher {
	return NewDispatcherWithMetrics(notifier, config, metrics.NoOpCollector{})
}

// NewDispatcherWithMetrics creates a dispatcher with a custom metrics collector.
func NewDispatcherWithMetrics(notifier Notifier, config Config, metricsCollector metrics.MetricsCollector) *Dispatcher {
	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = defaults.MaxWaitTime
	}
	if config.DepthReportInterval <= 0 {
		config.DepthReportInterval = defaults.DepthReportInterval
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		notifier:    notifier,
		queue:       make(chan Event, config.QueueSize),
		ctx:         ctx,
		cancelFunc:  cancel,
		config:      config,
		metrics:     metricsCollector,
		logger:      logging.Global().Named("notify").With(zap.String("channel", notifier.Name())),
		channel:     notifier.Name(),
		depthTicker: time.NewTicker(config.DepthReportInterval),
		depthStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	go d.reportDepth()

	return d
}

// WithLogger sets the logger used for delivery failures.
func (d *Dispatcher) WithLogger(l *logging.Logger) *Dispatcher {
	if l != nil {
		d.logger = l.With(zap.String("channel", d.channel))
	}
	return d
}

// Dispatch enqueues ev. If the queue is full it waits up to MaxWaitTime
// before dropping the event and returning ErrQueueFull. An accepted event is
// always delivered, even when Close runs concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timer := time.NewTimer(d.config.MaxWaitTime)
	defer timer.Stop()

	atomic.AddInt64(&d.inflight, 1)
	select {
	case d.queue <- ev:
		atomic.AddInt64(&d.enqueued, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&d.inflight, -1)
		atomic.AddInt64(&d.dropped, 1)
		d.metrics.RecordNotificationDropped(d.channel)
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&d.inflight, -1)
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	defer atomic.AddInt64(&d.inflight, -1)

	ctx := context.Background()
	if d.config.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.DeliveryTimeout)
		defer cancel()
	}

	start := time.Now()
	err := d.notifier.Notify(ctx, ev)
	d.metrics.RecordNotification(d.channel, err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&d.failed, 1)
		d.logger.Warn("notification delivery failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("reference", ev.Reference),
			zap.Error(err),
		)
		return
	}
	atomic.AddInt64(&d.delivered, 1)
}

// Flush waits until every accepted event has been handed to the notifier,
// or until timeout.
func (d *Dispatcher) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&d.inflight) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// workers to finish.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		d.closeMu.Unlock()

		close(d.depthStop)
		d.depthTicker.Stop()
		d.cancelFunc()
		d.wg.Wait()
	})
	return nil
}

func (d *Dispatcher) reportDepth() {
	for {
		select {
		case <-d.depthTicker.C:
			d.metrics.RecordQueueDepth(d.channel, len(d.queue))
		case <-d.depthStop:
			return
		}
	}
}

// Stats returns current statistics about the dispatcher.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		QueueDepth: len(d.queue),
		Dropped:    atomic.LoadInt64(&d.dropped),
		Enqueued:   atomic.LoadInt64(&d.enqueued),
		Delivered:  atomic.LoadInt64(&d.delivered),
		Failed:     atomic.LoadInt64(&d.failed),
	}
}
