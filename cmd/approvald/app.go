package main

import (
	"context"
	"fmt"
	"time"

	"approval-chain/pkg/banking"
	"approval-chain/pkg/config"
	"approval-chain/pkg/lock"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/metrics"
	promcollector "approval-chain/pkg/metrics/prometheus"
	"approval-chain/pkg/notify"
	"approval-chain/pkg/pipeline"
	"approval-chain/pkg/resilience"
	"approval-chain/pkg/store"
	"approval-chain/pkg/store/guard"
	"approval-chain/pkg/store/memory"
	"approval-chain/pkg/store/sqlstore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// App holds the wired services of one process.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Store   store.Store
	Users   store.UserWriter
	Metrics metrics.MetricsCollector

	// Registry is nil when metrics are disabled.
	Registry *prometheus.Registry

	Transactions *banking.TransactionService
	Groups       *banking.GroupService
	Accounts     *banking.AccountService

	locker     lock.Locker
	dispatcher *notify.Dispatcher
}

// NewApp builds the store, locker, notification chain, pipeline and services
// described by cfg. The returned cleanup flushes notifications and closes
// every resource.
func NewApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logging.SetGlobal(logger)

	app := &App{Config: cfg, Logger: logger, Metrics: metrics.NoOpCollector{}}

	if cfg.Metrics.Enabled {
		app.Registry = prometheus.NewRegistry()
		app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector := promcollector.NewPrometheusCollector(cfg.Metrics.Namespace)
		if err := collector.Register(app.Registry); err != nil {
			return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		app.Metrics = collector
	}

	inner, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	app.Users, _ = inner.(store.UserWriter)
	app.Store = inner

	if cfg.Database.GuardEnabled() {
		g, err := guard.New(ctx, inner, cfg.Database.GuardExpectedItems, cfg.Database.GuardFalsePositiveRate)
		if err != nil {
			inner.Close()
			return nil, nil, err
		}
		app.Store = g
	}

	if err := app.seedUsers(ctx, cfg.Users); err != nil {
		inner.Close()
		return nil, nil, err
	}

	if cfg.Redis.Enabled() {
		rl, err := lock.NewRedisLocker(cfg.Redis.LockerConfig())
		if err != nil {
			inner.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.locker = rl.WithMetrics(app.Metrics).WithLogger(logger.Named("lock"))
	} else {
		app.locker = lock.NewKeyedMutex().WithMetrics(app.Metrics)
	}

	breaker := resilience.NewNotifierWithMetrics(
		notify.NewLogNotifier(logger.Named("notify")),
		cfg.Notifications.Breaker(),
		app.Metrics,
	)
	app.dispatcher = notify.NewDispatcherWithMetrics(breaker, cfg.Notifications.Config, app.Metrics).
		WithLogger(logger.Named("dispatcher"))

	assembler, err := pipeline.NewAssembler(cfg.Pipeline, app.Store,
		pipeline.WithMetrics(app.Metrics),
		pipeline.WithLogger(logger.Named("pipeline")),
	)
	if err != nil {
		app.close()
		return nil, nil, err
	}

	opts := []banking.Option{
		banking.WithLocker(app.locker),
		banking.WithDispatcher(app.dispatcher),
		banking.WithMetrics(app.Metrics),
		banking.WithLogger(logger.Named("banking")),
		banking.WithLockTimeout(cfg.Lock.Timeout),
	}
	app.Transactions = banking.NewTransactionService(app.Store, assembler.Approval(), opts...)
	app.Groups = banking.NewGroupService(app.Store, opts...)
	app.Accounts = banking.NewAccountService(app.Store, opts...)

	logger.Info("application ready",
		zap.String("database", cfg.Database.Driver),
		zap.String("locker", app.locker.Name()),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)

	cleanup := func() {
		if err := app.close(); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return app, cleanup, nil
}

func (a *App) seedUsers(ctx context.Context, users []config.UserConfig) error {
	if len(users) == 0 {
		return nil
	}
	if a.Users == nil {
		return fmt.Errorf("database driver %s can not store users", a.Config.Database.Driver)
	}
	for _, u := range users {
		if err := a.Users.SaveUser(ctx, store.User{ID: u.ID, Username: u.Username, Roles: u.Roles}); err != nil {
			return err
		}
	}
	a.Logger.Debug("seeded users", zap.Int("count", len(users)))
	return nil
}

func (a *App) close() error {
	var err error
	if a.dispatcher != nil {
		err = multierr.Append(err, a.dispatcher.Flush(5*time.Second))
		err = multierr.Append(err, a.dispatcher.Close())
	}
	if a.locker != nil {
		err = multierr.Append(err, a.locker.Close())
	}
	if a.Store != nil {
		err = multierr.Append(err, a.Store.Close())
	}
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		return memory.New(), nil
	}
	dialect, err := sqlstore.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	st, err := sqlstore.Open(ctx, dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return st, nil
}
