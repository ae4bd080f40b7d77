package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/quarryline/quarryline/internal/app"
	"github.com/quarryline/quarryline/internal/dispatch"
	jobmetrics "github.com/quarryline/quarryline/internal/jobs"
	"github.com/quarryline/quarryline/internal/platform/db"
	"github.com/quarryline/quarryline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := jobmetrics.NewMetrics(nil)

	invoiceService, err := app.NewInvoicing(pool, cfg, logger)
	if err != nil {
		logger.Error("init invoicing", slog.Any("error", err))
		os.Exit(1)
	}
	engine := dispatch.NewService(dispatch.NewRepository(pool), invoiceService, logger, app.DispatchConfig(cfg))
	reports := app.NewReports(engine, app.NewGotenberg(cfg), redisClient, cfg, logger)

	sweeps := jobs.NewInvoiceSweepJob(invoiceService, logger, metrics)
	prerender := jobs.NewReportPrerenderJob(reports, logger, metrics)

	backfillTask, err := jobs.NewInvoiceBackfillTask(jobs.DefaultBackfillLimit)
	if err != nil {
		logger.Error("build backfill task", slog.Any("error", err))
		os.Exit(1)
	}
	agingTask, err := jobs.NewInvoiceAgingTask(jobs.DefaultAgingBatch)
	if err != nil {
		logger.Error("build aging task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInvoiceBackfill, Handler: sweeps.HandleBackfill},
			{Type: jobs.TaskInvoiceAging, Handler: sweeps.HandleAging},
			{Type: jobs.TaskReportPrerender, Handler: prerender.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BackfillCron, Task: backfillTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.AgingCron, Task: agingTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
