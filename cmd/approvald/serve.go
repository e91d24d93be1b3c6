package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"approval-chain/pkg/api"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	Address string
}

// NewServeCmd creates the serve command.
func NewServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API until SIGINT or SIGTERM.

While serving, PENDING transactions are re-processed every sweep.interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return root.withApp(ctx, func(app *App) error {
				if flags.Address != "" {
					app.Config.API.Address = flags.Address
				}
				return serve(ctx, app)
			})
		},
	}

	cmd.Flags().StringVarP(&flags.Address, "address", "a", "", "listen address, overrides api.address")

	return cmd
}

func serve(ctx context.Context, app *App) error {
	logger := app.Logger

	opts := []api.Option{api.WithLogger(logger.Named("api"))}
	if app.Registry != nil {
		httpMetrics := api.NewHTTPMetrics(app.Config.Metrics.Namespace)
		if err := httpMetrics.Register(app.Registry); err != nil {
			return fmt.Errorf("failed to register http metrics: %w", err)
		}
		opts = append(opts,
			api.WithHTTPMetrics(httpMetrics),
			api.WithMetricsHandler(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})),
		)
	}

	server := api.NewServer(api.Services{
		Transactions: app.Transactions,
		Groups:       app.Groups,
		Accounts:     app.Accounts,
	}, app.Config.API, opts...)

	if err := server.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if interval := app.Config.Sweep.Interval; interval > 0 {
		g.Go(func() error {
			runSweeps(gctx, app, interval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// runSweeps re-processes PENDING transactions every interval until ctx ends.
func runSweeps(ctx context.Context, app *App, interval time.Duration) {
	logger := app.Logger.Named("sweep")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := app.Transactions.ProcessPending(ctx)
			if err != nil {
				logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if report.Processed > 0 {
				logger.Info("sweep finished",
					zap.Int("processed", report.Processed),
					zap.Int("completed", report.Completed),
					zap.Int("failed", report.Failed),
					zap.Int("still_pending", report.StillPending),
				)
			}
		}
	}
}
