package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/loomline-erp/loomline-erp/internal/app"
	"github.com/loomline-erp/loomline-erp/internal/permission"
	"github.com/loomline-erp/loomline-erp/internal/platform/cache"
	"github.com/loomline-erp/loomline-erp/internal/platform/db"
	"github.com/loomline-erp/loomline-erp/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The cache is advisory: an unreachable Redis slows permission
	// computation down but must never block the worker from starting.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable at startup", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := permission.NewRepository(pool)
	engine := permission.NewEngine(permission.EngineConfig{
		Roles:     repo,
		Ceilings:  repo,
		Overrides: repo,
		Catalog:   repo,
		Store:     permission.NewRedisStore(redisClient),
		TTL:       cfg.PermCacheTTL,
		Logger:    logger,
	})

	evictJob := jobs.NewPermissionEvictJob(engine, logger, nil)
	warmupJob := jobs.NewPermissionWarmupJob(engine, pool, logger, nil)

	warmupTask, err := jobs.NewPermissionWarmupTask(cfg.WarmupBatchSize)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermissionEvictUser, Handler: evictJob.HandleEvictUser},
			{Type: jobs.TaskPermissionEvictRole, Handler: evictJob.HandleEvictRole},
			{Type: jobs.TaskPermissionEvictCeiling, Handler: evictJob.HandleEvictCeiling},
			{Type: jobs.TaskPermissionWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	router := chi.NewRouter()
	router.Use(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	jobs.NewHandler(inspector, logger).MountRoutes(router)
	healthSrv := &http.Server{Addr: cfg.WorkerAddr, Handler: router}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
