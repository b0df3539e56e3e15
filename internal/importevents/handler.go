package importevents

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/revenue/internal/revenue"
	"github.com/odyssey-erp/revenue/jobs"
)

// Invalidator drops cached revenue snapshots.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) error
}

// RefreshEnqueuer queues a materialized summary refresh and snapshot warmups.
type RefreshEnqueuer interface {
	EnqueueSummaryRefresh(ctx context.Context, payload jobs.SummaryRefreshPayload) error
	jobs.WarmupEnqueuer
}

// Handler reacts to finished batch imports.
type Handler struct {
	invalidator Invalidator
	refresher   RefreshEnqueuer
	logger      *slog.Logger
}

// NewHandler builds the event handler. refresher may be nil.
func NewHandler(invalidator Invalidator, refresher RefreshEnqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{invalidator: invalidator, refresher: refresher, logger: logger}
}

// Handle invalidates every snapshot cache, queues a warmup and schedules a
// summary refresh keyed by the event id, so redelivered events queue at most
// one refresh.
func (h *Handler) Handle(ctx context.Context, msg *ImportCompleted) error {
	logger := h.logger.With(slog.String("event_id", msg.EventID.String()), slog.String("batch_id", msg.BatchID))
	if err := h.invalidator.Invalidate(ctx, revenue.ReasonBatchImport); err != nil {
		return err
	}
	logger.Info("revenue cache invalidated after import", slog.Int("rows", msg.Rows))

	if h.refresher == nil {
		return nil
	}
	jobs.QueueWarmup(ctx, h.refresher, logger)
	err := h.refresher.EnqueueSummaryRefresh(ctx, jobs.SummaryRefreshPayload{
		Reason:  revenue.ReasonBatchImport,
		EventID: msg.EventID.String(),
	})
	if errors.Is(err, jobs.ErrDuplicateTask) {
		logger.Debug("summary refresh already queued")
		return nil
	}
	return err
}

// JobRefresher adapts jobs.Client to RefreshEnqueuer.
type JobRefresher struct {
	Client *jobs.Client
}

// EnqueueSummaryRefresh implements RefreshEnqueuer.
func (r JobRefresher) EnqueueSummaryRefresh(ctx context.Context, payload jobs.SummaryRefreshPayload) error {
	_, err := r.Client.EnqueueSummaryRefresh(ctx, payload)
	return err
}

// EnqueueSnapshotWarmup implements jobs.WarmupEnqueuer.
func (r JobRefresher) EnqueueSnapshotWarmup(ctx context.Context, slots ...string) (*asynq.TaskInfo, error) {
	return r.Client.EnqueueSnapshotWarmup(ctx, slots...)
}
