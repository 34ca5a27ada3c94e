package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/api"
	"github.com/Checker-Finance/market-index/internal/health"
	"github.com/Checker-Finance/market-index/internal/jobs"
	"github.com/Checker-Finance/market-index/pkg/logger"
)

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()
		cfg := a.cfg

		a.log.Info("starting [market-index]...",
			zap.Strings("indexes", codesOf(a.defs)),
			zap.Int("workers", cfg.Workers))

		// --- Scheduler ---
		sched := jobs.NewScheduler(logger.Named("scheduler"), a.orch, a.defs, jobs.Config{
			RunAt:        cfg.DailyRunAt,
			ValueDateLag: cfg.ValueDateLag,
			OffsetDays:   a.m.Rebalance.OffsetDays,
			Interval:     cfg.SchedulerTick,
			RunTimeout:   cfg.RunTimeout,
		})
		go sched.Start(ctx)

		// --- Fiber HTTP Server ---
		app := fiber.New(fiber.Config{
			ReadTimeout:           cfg.HTTPReadTimeout,
			WriteTimeout:          cfg.HTTPWriteTimeout,
			IdleTimeout:           cfg.HTTPIdleTimeout,
			DisableStartupMessage: true,
		})
		checker := healthChecker(a)
		handler := api.NewIndexHandler(logger.Named("api"), a.m, a.store, a.orch)
		api.RegisterRoutes(app, a.nc, a.store, checker, handler)

		listenErr := make(chan error, 1)
		go func() {
			a.log.Info(fmt.Sprintf("HTTP API listening on :%d", cfg.Port))
			listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
		}()

		// --- Main process stays alive until interrupted ---
		select {
		case <-ctx.Done():
		case err := <-listenErr:
			if err != nil {
				a.log.Error("fiber.listen_failed", zap.Error(err))
			}
		}
		a.log.Info("shutting down [market-index]...")

		sched.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			a.log.Warn("fiber.shutdown_failed", zap.Error(err))
		}
		a.log.Info("[market-index] stopped")
		return nil
	},
}

func healthChecker(a *app) *health.Checker {
	return health.NewChecker(a.store, a.defs, health.Config{
		ValueDateLag:    a.cfg.ValueDateLag,
		PriceMaxAgeDays: a.cfg.PriceMaxAgeDays,
		IndexMaxAgeDays: a.cfg.IndexMaxAgeDays,
	}, logger.Named("health"))
}
