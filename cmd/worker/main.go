package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/deferrals/internal/accounting"
	"github.com/odyssey-erp/deferrals/internal/app"
	"github.com/odyssey-erp/deferrals/internal/deferral"
	jobmetrics "github.com/odyssey-erp/deferrals/internal/jobs"
	"github.com/odyssey-erp/deferrals/internal/platform/cache"
	"github.com/odyssey-erp/deferrals/internal/platform/db"
	"github.com/odyssey-erp/deferrals/internal/shared"
	"github.com/odyssey-erp/deferrals/jobs"
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

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "odyssey-deferrals-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}
	auditLogger := shared.NewAuditLogger(pool)

	accountingService := accounting.NewService(accounting.NewRepository(pool), auditLogger)
	deferralRepo := deferral.NewRepository(pool)
	deferralService := deferral.NewService(deferralRepo, accountingService, auditLogger, deferral.ServiceConfig{
		Logger:          logger,
		Cache:           deferral.NewReportCache(redisClient, cfg.DeferralReportCacheTTL),
		Metrics:         metrics,
		DefaultCurrency: cfg.DeferralDefaultCurrency,
	})
	generateJob := jobs.NewDeferralGenerateJob(deferralService, deferralRepo, logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.DeferralCron != "" {
		generateTask, err := jobs.NewDeferralGenerateTask(jobs.DeferralGeneratePayload{})
		if err != nil {
			logger.Error("build deferral task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.DeferralCron,
			Task:    generateTask,
			Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOptions().AsynqOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDeferralGenerate, Handler: generateJob.Handle},
		},
		Cron: cron,
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
