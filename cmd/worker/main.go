package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"clubattendance/internal/app"
	"clubattendance/internal/config"
	"clubattendance/internal/logging"
	"clubattendance/internal/metrics"
	"clubattendance/internal/scheduler"
)

// Worker enqueues initialize and sweep jobs on the weekly schedule and runs them.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Production(), cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := app.Build(ctx, cfg, reg, logger)
	if err != nil {
		logger.Error("worker setup failed", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	var dedupe scheduler.Deduper = scheduler.NewMemoryDeduper()
	if cfg.QueueBackend == "redis" {
		dedupe = scheduler.NewRedisDeduper(deps.Redis.Client)
	}
	sched := scheduler.New(deps.Schedule, deps.Queue, dedupe, logger)

	jobs, err := deps.Queue.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx, cfg.SchedulerInterval)
		return nil
	})
	g.Go(func() error {
		scheduler.Consume(gctx, jobs, deps.Ledger, deps.Metrics, logger)
		return nil
	})
	g.Go(func() error {
		if err := metrics.Serve(gctx, ":"+cfg.WorkerMetricsPort, reg); err != nil {
			logger.Warn("worker metrics server stopped", "error", err)
		}
		return nil
	})

	logger.Info("worker started", "interval", cfg.SchedulerInterval, "queue", cfg.QueueBackend, "metrics_port", cfg.WorkerMetricsPort)
	_ = g.Wait()
	logger.Info("worker stopped")
}
