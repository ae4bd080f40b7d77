package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/quarryline/quarryline/internal/app"
	"github.com/quarryline/quarryline/internal/dispatch"
	dispatchexport "github.com/quarryline/quarryline/internal/dispatch/export"
	"github.com/quarryline/quarryline/internal/fleet"
	"github.com/quarryline/quarryline/internal/invoicing"
	"github.com/quarryline/quarryline/internal/observability"
	"github.com/quarryline/quarryline/internal/platform/cache"
	"github.com/quarryline/quarryline/internal/platform/db"
	"github.com/quarryline/quarryline/internal/shared"
	"github.com/quarryline/quarryline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	publisher, err := app.NewPublisher(cfg, logger)
	if err != nil {
		logger.Error("init event publisher", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close", slog.Any("error", err))
		}
	}()

	invoiceService, err := app.NewInvoicing(pool, cfg, logger)
	if err != nil {
		logger.Error("init invoicing", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	dispatchModule := dispatch.NewModule(pool, invoiceService, shared.NewIdempotencyStore(pool), logger, app.DispatchConfig(cfg))
	dispatchModule.Service.SetPublisher(publisher)
	dispatchModule.Service.SetObserver(metrics)
	dispatchModule.Service.SetReportQueue(jobClient)

	gotenberg := app.NewGotenberg(cfg)
	reports := app.NewReports(dispatchModule.Service, gotenberg, redisClient, cfg, logger)
	reports.SetObserver(metrics)

	health := map[string]app.Pinger{
		"postgres":  pool,
		"gotenberg": gotenberg,
	}
	if redisClient != nil {
		health["redis"] = app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		FleetHandler:     fleet.NewHandler(logger, fleet.NewLedger(fleet.NewRepository(pool))),
		InvoicingHandler: invoicing.NewHandler(logger, invoiceService),
		Dispatch:         dispatchModule,
		ReportHandler:    dispatchexport.NewHandler(logger, reports),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Health:           health,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
