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

	"github.com/odyssey-erp/deferrals/internal/accounting"
	"github.com/odyssey-erp/deferrals/internal/app"
	"github.com/odyssey-erp/deferrals/internal/deferral"
	deferralhttp "github.com/odyssey-erp/deferrals/internal/deferral/http"
	"github.com/odyssey-erp/deferrals/internal/observability"
	"github.com/odyssey-erp/deferrals/internal/platform/cache"
	"github.com/odyssey-erp/deferrals/internal/platform/db"
	"github.com/odyssey-erp/deferrals/internal/shared"
	"github.com/odyssey-erp/deferrals/jobs"
)

func main() {
	if len(os.Args) > 1 {
		os.Exit(runCommand(os.Args[1:]))
	}

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

	logger := app.NewLogger(cfg, "api")

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "odyssey-deferrals"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	accountingRepo := accounting.NewRepository(dbpool)
	accountingService := accounting.NewService(accountingRepo, auditLogger)

	deferralRepo := deferral.NewRepository(dbpool)
	deferralService := deferral.NewService(deferralRepo, accountingService, auditLogger, deferral.ServiceConfig{
		Logger:          logger,
		Cache:           deferral.NewReportCache(redisClient, cfg.DeferralReportCacheTTL),
		Metrics:         metrics.Jobs(),
		DefaultCurrency: cfg.DeferralDefaultCurrency,
	})

	redisOpts := cfg.RedisOptions().AsynqOpt()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	deferralHandler := deferralhttp.NewHandler(deferralhttp.Config{
		Logger:      logger,
		Service:     deferralService,
		Jobs:        jobClient,
		Idempotency: idempotencyStore,
		ReportLimit: cfg.DeferralRateLimit,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		DeferralHandler: deferralHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
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
