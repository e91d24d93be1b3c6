// Package banking runs money movements through the approval pipeline and
// manages accounts and account groups.
//
// Every operation that changes balances holds the account locks for the
// accounts involved, works on copies loaded under those locks, and persists
// the transaction together with the changed accounts in one Commit.
package banking

import (
	"context"
	"time"

	"approval-chain/pkg/lock"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/metrics"
	"approval-chain/pkg/notify"
)

// Dispatcher accepts notification events for asynchronous delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event) error
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, ev notify.Event) error { return nil }

type options struct {
	locker      lock.Locker
	dispatcher  Dispatcher
	metrics     metrics.MetricsCollector
	logger      *logging.Logger
	clock       func() time.Time
	lockTimeout time.Duration
}

func defaultOptions() options {
	return options{
		locker:      lock.NewKeyedMutex(),
		dispatcher:  noopDispatcher{},
		metrics:     metrics.NoOpCollector{},
		logger:      logging.Global().Named("banking"),
		clock:       func() time.Time { return time.Now().UTC() },
		lockTimeout: 10 * time.Second,
	}
}

// Option customizes a service.
type Option func(*options)

// WithLocker sets the account locker. The default is an in-process KeyedMutex;
// services that share accounts must share a locker.
func WithLocker(l lock.Locker) Option {
	return func(o *options) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithDispatcher sets where completion notifications are sent.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLockTimeout bounds how long an operation waits for account locks.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// lockAccounts takes the locks for ids, waiting at most lockTimeout.
func (o *options) lockAccounts(ctx context.Context, ids ...int64) (lock.Release, error) {
	ctx, cancel := context.WithTimeout(ctx, o.lockTimeout)
	defer cancel()
	return o.locker.Lock(ctx, lock.AccountKeys(ids...)...)
}
