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

	"github.com/odyssey-erp/revenue/internal/app"
	"github.com/odyssey-erp/revenue/internal/observability"
	"github.com/odyssey-erp/revenue/internal/platform/cache"
	"github.com/odyssey-erp/revenue/internal/platform/db"
	revenuehttp "github.com/odyssey-erp/revenue/internal/revenue/http"
	"github.com/odyssey-erp/revenue/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "odyssey-revenue"})
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

	if !app.InTestMode() {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.RevenuePageTimeout)
		if err := stack.Source.Probe(probeCtx); err != nil {
			logger.Warn("revenue relation probe", slog.String("relation", stack.Source.Name()), slog.Any("error", err))
		}
		cancel()
		if err := stack.Cache.Listen(ctx); err != nil {
			logger.Error("subscribe revenue invalidations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer inspector.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RevenueHandler: revenuehttp.NewHandler(logger, stack.Service).WithRequestTimeout(cfg.AppRequestTimeout),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
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
