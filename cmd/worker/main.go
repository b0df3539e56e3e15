package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/revenue/internal/app"
	"github.com/odyssey-erp/revenue/internal/importevents"
	"github.com/odyssey-erp/revenue/internal/observability"
	"github.com/odyssey-erp/revenue/internal/platform/cache"
	"github.com/odyssey-erp/revenue/internal/platform/db"
	"github.com/odyssey-erp/revenue/jobs"
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
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "odyssey-revenue-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	stack := app.NewRevenueStack(cfg, pool, redisClient, logger, metrics.Pipeline())
	if err := stack.Cache.Listen(ctx); err != nil {
		logger.Error("subscribe revenue invalidations", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer jobClient.Close()

	refreshJob := jobs.NewSummaryRefreshJob(pool, cfg.RevenueSummaryView, stack.Service, logger, metrics.Jobs())
	refreshJob.Warmer = jobClient
	warmupJob := jobs.NewSnapshotWarmupJob(stack.Service, logger, metrics.Jobs())

	refreshTask, err := jobs.NewSummaryRefreshTask(jobs.SummaryRefreshPayload{Reason: "cron"})
	if err != nil {
		logger.Error("build refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSummaryRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskSnapshotWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RevenueRefreshCron, Task: refreshTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if cfg.AMQPURL != "" {
		handler := importevents.NewHandler(stack.Service, importevents.JobRefresher{Client: jobClient}, logger)
		dial := func() (importevents.Session, error) {
			client, err := importevents.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
		g.Go(func() error {
			return importevents.Run(ctx, dial, handler.Handle, logger)
		})
	} else {
		logger.Info("AMQP_URL not set, batch import consumer disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
