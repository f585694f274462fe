package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/quartermast/quartermast/internal/app"
	"github.com/quartermast/quartermast/internal/jobmetrics"
	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/internal/masterdata"
	"github.com/quartermast/quartermast/internal/notify"
	"github.com/quartermast/quartermast/internal/platform/cache"
	"github.com/quartermast/quartermast/internal/platform/db"
	"github.com/quartermast/quartermast/internal/shared"
	"github.com/quartermast/quartermast/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, degrading", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	masterdataRepo := masterdata.NewRepository(pool)
	thresholds := masterdata.NewThresholdCache(redisClient, masterdataRepo, cfg.ThresholdCacheTTL)
	masterdataService := masterdata.NewService(masterdataRepo, thresholds)

	ledgerRepo := ledger.NewRepository(pool)
	notifier := notify.NewAsynqNotifier(queueClient, logger)
	monitor := ledger.NewMonitor(ledgerRepo, thresholds, notifier, logger)

	metrics := jobmetrics.NewMetrics(nil)

	sweep := &jobs.ThresholdSweepJob{
		Products: masterdataService,
		Monitor:  monitor,
		Redis:    redisClient,
		Logger:   logger,
		Metrics:  metrics,
	}
	cleanup := &jobs.IdempotencyCleanupJob{
		Store:   shared.NewIdempotencyStore(pool),
		Logger:  logger,
		Metrics: metrics,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeLowStock, Handler: jobs.NewLowStockHandler(logger, metrics)},
			{Type: jobs.TaskTypeThresholdSweep, Handler: sweep.Handler()},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: cleanup.Handler()},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: jobs.NewThresholdSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CleanupCron, Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shut down")
}
