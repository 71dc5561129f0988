package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/krunaln/macrs-ecom-recommender/internal/api"
	"github.com/krunaln/macrs-ecom-recommender/internal/scheduler"
)

const schedulerStopTimeout = 10 * time.Second

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recommender over HTTP",
	Long: `Serve the conversation API, product search, health and Prometheus metrics.

When store.retention is set, sessions idle for longer are purged on
store.sweep_schedule (a cron expression, default @hourly).

Examples:
  # Serve with a JSON catalog and rule-based agents
  macrs serve --catalog products.json --no-llm

  # Serve on another port with Redis-backed sessions
  MACRS_STORE_RETENTION=24h macrs serve --addr :9090 --store-dsn redis://localhost:6379/0`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, "serve")
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Store.Retention > 0 {
		sched := scheduler.NewScheduler()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				slog.Warn("macrs serve: scheduler did not stop cleanly", "error", err)
			}
		}()
		retention := cfg.Store.Retention
		_, err := sched.AddJob("purge-idle-conversations", cfg.Store.SweepSchedule, func(ctx context.Context) error {
			_, err := a.service.PurgeIdle(ctx, retention)
			return err
		})
		if err != nil {
			return err
		}
	}

	srv := api.NewServer(a.service, a.searcher, api.WithAddr(cfg.API.Addr))
	return srv.Run(ctx)
}
