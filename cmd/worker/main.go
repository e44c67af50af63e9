package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-bi/backoffice/internal/app"
	jobmetrics "github.com/odyssey-bi/backoffice/internal/jobs"
	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
	"github.com/odyssey-bi/backoffice/jobs"
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

	pool, err := db.New(ctx, cfg.DatabaseOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	manager := softdelete.NewManager(softdelete.NewPGStore(pool), metrics, logger)
	reconcileJob := jobs.NewCountersReconcileJob(manager, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	reconcileTask, err := jobs.NewCountersReconcileTask(jobs.CountersReconcilePayload{})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if cfg.RecountCron != "" {
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.RecountCron,
			Task:    reconcileTask,
			Options: jobs.ReconcileOptions(),
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCountersReconcile, Handler: reconcileJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("recount_cron", cfg.RecountCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
