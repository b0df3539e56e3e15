package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/revenue/internal/app"
	"github.com/odyssey-erp/revenue/internal/importevents"
	"github.com/odyssey-erp/revenue/internal/platform/cache"
	"github.com/odyssey-erp/revenue/internal/platform/db"
	"github.com/odyssey-erp/revenue/internal/revenue"
	"github.com/odyssey-erp/revenue/jobs"
)

// Backend is everything the commands need from the running system.
type Backend interface {
	Snapshot(ctx context.Context, windows []revenue.DateWindow, fresh bool) (revenue.MetricsSnapshot, error)
	Invalidate(ctx context.Context, reason string) error
	RefreshNow(ctx context.Context) error
	Trigger(ctx context.Context, task string) (*asynq.TaskInfo, error)
	Queue(ctx context.Context) (jobs.QueueStatus, error)
	ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error)
	PublishImport(ctx context.Context, batchID string, rows int) (*importevents.ImportCompleted, error)
	Close() error
}

// Opener connects a Backend for one command run.
type Opener func(ctx context.Context) (Backend, error)

type liveBackend struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	stack  *app.RevenueStack
	jobs   *JobsCLI
}

// OpenLive connects to Postgres and Redis using the environment config.
func OpenLive(ctx context.Context) (Backend, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4, ApplicationName: "revenuectl"})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &liveBackend{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		redis:  redisClient,
		stack:  app.NewRevenueStack(cfg, pool, redisClient, logger, nil),
		jobs:   NewJobsCLI(cfg.RedisAddr),
	}, nil
}

func (b *liveBackend) Snapshot(ctx context.Context, windows []revenue.DateWindow, fresh bool) (revenue.MetricsSnapshot, error) {
	if fresh {
		return b.stack.Service.Compute(ctx, windows)
	}
	return b.stack.Service.GetMetrics(ctx, windows)
}

func (b *liveBackend) Invalidate(ctx context.Context, reason string) error {
	return b.stack.Service.Invalidate(ctx, reason)
}

func (b *liveBackend) RefreshNow(ctx context.Context) error {
	job := jobs.NewSummaryRefreshJob(b.pool, b.cfg.RevenueSummaryView, b.stack.Service, b.logger, nil)
	return job.Run(ctx, jobs.SummaryRefreshPayload{Reason: "manual"})
}

func (b *liveBackend) Trigger(ctx context.Context, task string) (*asynq.TaskInfo, error) {
	return b.jobs.Trigger(ctx, task)
}

func (b *liveBackend) Queue(ctx context.Context) (jobs.QueueStatus, error) {
	return b.jobs.InspectQueue(ctx)
}

func (b *liveBackend) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	return b.jobs.ListScheduled(ctx, size)
}

func (b *liveBackend) PublishImport(ctx context.Context, batchID string, rows int) (*importevents.ImportCompleted, error) {
	if b.cfg.AMQPURL == "" {
		return nil, errors.New("AMQP_URL is not configured")
	}
	client, err := importevents.NewClient(b.cfg.AMQPURL, b.cfg.AMQPExchange, b.cfg.AMQPQueue, b.logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	msg := importevents.NewImportCompleted(batchID, rows)
	if err := client.PublishImportCompleted(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (b *liveBackend) Close() error {
	err := b.jobs.Close()
	if closeErr := b.redis.Close(); closeErr != nil {
		err = closeErr
	}
	b.pool.Close()
	return err
}
