package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.DefaultPingTimeout)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// Auto-match tasks come from the queue itself, so the worker never re-enqueues.
	services := app.NewServices(app.ServiceDeps{
		Config:      cfg,
		Pool:        pool,
		RedisClient: redisClient,
		Logger:      logger,
	})
	metrics := jobmetrics.NewMetrics(nil)

	autoMatchJob := reconciliation.NewAutoMatchJob(services.Reconciliation, metrics, logger)
	numberingJob := numbering.NewIntegrityJob(services.Numbering, metrics, logger, cfg.ScanConcurrency)
	ledgerJob := ledger.NewIntegrityJob(services.Ledger, metrics, logger, cfg.ScanConcurrency)

	numberingTask, err := jobs.NewNumberingIntegrityTask(jobs.IntegrityScanPayload{})
	if err != nil {
		logger.Error("build numbering scan task", slog.Any("error", err))
		os.Exit(1)
	}
	ledgerTask, err := jobs.NewLedgerIntegrityTask(jobs.IntegrityScanPayload{})
	if err != nil {
		logger.Error("build ledger scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcileAutoMatch, Handler: autoMatchJob.Handle},
			{Type: jobs.TaskNumberingIntegrity, Handler: numberingJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: ledgerJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityScanCron, Task: numberingTask},
			{Spec: cfg.IntegrityScanCron, Task: ledgerTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
