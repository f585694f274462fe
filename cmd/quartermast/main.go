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

	"github.com/quartermast/quartermast/internal/app"
	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/internal/masterdata"
	"github.com/quartermast/quartermast/internal/notify"
	"github.com/quartermast/quartermast/internal/observability"
	"github.com/quartermast/quartermast/internal/platform/cache"
	"github.com/quartermast/quartermast/internal/platform/db"
	"github.com/quartermast/quartermast/internal/purchases"
	"github.com/quartermast/quartermast/internal/sales"
	"github.com/quartermast/quartermast/internal/shared"
	"github.com/quartermast/quartermast/jobs"
	"github.com/quartermast/quartermast/migrations"
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

	if err := db.Migrate(cfg.PGDSN, migrations.Files); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

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

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

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
	coordinator := ledger.NewCoordinator(ledgerRepo, monitor, auditLogger, logger)
	reconciler := ledger.NewReconciler(coordinator)

	purchasesRepo := purchases.NewRepository(pool)
	purchasesService := purchases.NewService(logger, purchasesRepo, reconciler, idempotencyStore)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(logger, salesRepo, reconciler, idempotencyStore)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		LedgerHandler:     ledger.NewHandler(logger, coordinator),
		PurchasesHandler:  purchases.NewHandler(logger, purchasesService),
		SalesHandler:      sales.NewHandler(logger, salesService),
		MasterDataHandler: masterdata.NewHandler(logger, masterdataService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
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
