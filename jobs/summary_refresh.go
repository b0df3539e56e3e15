package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/revenue/internal/jobs"
	"github.com/odyssey-erp/revenue/internal/platform/db"
	"github.com/odyssey-erp/revenue/internal/revenue"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Invalidator drops cached revenue snapshots in every process.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) error
}

// WarmupEnqueuer queues a snapshot warmup. *Client implements it.
type WarmupEnqueuer interface {
	EnqueueSnapshotWarmup(ctx context.Context, slots ...string) (*asynq.TaskInfo, error)
}

// SummaryRefreshJob refreshes the materialized summary, signals every
// snapshot cache, then queues a warmup when Warmer is set.
type SummaryRefreshJob struct {
	DB          db.Execer
	View        string
	Invalidator Invalidator
	Warmer      WarmupEnqueuer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewSummaryRefreshJob wires dependencies for the refresh handler.
func NewSummaryRefreshJob(exec db.Execer, view string, invalidator Invalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryRefreshJob {
	return &SummaryRefreshJob{DB: exec, View: view, Invalidator: invalidator, Logger: logger, Metrics: metrics}
}

// Handle processes TaskSummaryRefresh tasks.
func (j *SummaryRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.DB == nil || j.Invalidator == nil || j.View == "" {
		return errors.New("summary refresh: dependencies not configured")
	}
	var payload SummaryRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	return j.Run(ctx, payload)
}

// Run refreshes the view and invalidates caches. The cache is left untouched
// when the refresh fails.
func (j *SummaryRefreshJob) Run(ctx context.Context, payload SummaryRefreshPayload) (resultErr error) {
	tracker := j.metrics().Track(TaskSummaryRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("view", j.View))
	if payload.EventID != "" {
		logger = logger.With(slog.String("event_id", payload.EventID))
	}
	start := time.Now()

	if err := db.RefreshMaterializedView(ctx, j.DB, j.View, true); err != nil {
		logger.Error("refresh revenue summary", slog.Any("error", err))
		return err
	}
	if err := j.Invalidator.Invalidate(ctx, revenue.ReasonSummaryRefresh); err != nil {
		logger.Error("signal summary refresh", slog.Any("error", err))
		return err
	}
	logger.Info("refreshed revenue summary", slog.Duration("duration", time.Since(start)))
	QueueWarmup(ctx, j.Warmer, logger)
	return nil
}

// QueueWarmup asks for every slot to be recomputed after an invalidation. A
// warmup already queued counts as success; other failures are only logged
// since the caches are already consistent.
func QueueWarmup(ctx context.Context, warmer WarmupEnqueuer, logger *slog.Logger) {
	if warmer == nil {
		return
	}
	_, err := warmer.EnqueueSnapshotWarmup(ctx)
	switch {
	case err == nil:
		logger.Debug("snapshot warmup queued")
	case errors.Is(err, ErrDuplicateTask):
		logger.Debug("snapshot warmup already queued")
	default:
		logger.Warn("queue snapshot warmup", slog.Any("error", err))
	}
}

func (j *SummaryRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSummaryRefresh))
	}
	return slog.Default().With(slog.String("job", TaskSummaryRefresh))
}

func (j *SummaryRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
