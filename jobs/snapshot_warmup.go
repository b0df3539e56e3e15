package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/revenue/internal/jobs"
	"github.com/odyssey-erp/revenue/internal/revenue"
)

const warmupSlotTimeout = 20 * time.Second

// SnapshotService computes revenue snapshots through the cache.
type SnapshotService interface {
	GetMetrics(ctx context.Context, windows []revenue.DateWindow) (revenue.MetricsSnapshot, error)
}

// SnapshotWarmupJob precomputes the snapshots dashboards ask for first.
type SnapshotWarmupJob struct {
	Service SnapshotService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSnapshotWarmupJob wires dependencies for the warmup handler.
func NewSnapshotWarmupJob(service SnapshotService, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotWarmupJob {
	return &SnapshotWarmupJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskSnapshotWarmup tasks.
func (j *SnapshotWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("snapshot warmup: handler not configured")
	}
	var payload SnapshotWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	return j.Run(ctx, payload.Slots)
}

// Run warms every requested slot, stopping at the first failure.
func (j *SnapshotWarmupJob) Run(ctx context.Context, slots []string) (resultErr error) {
	if len(slots) == 0 {
		slots = []string{SlotCurrent, SlotPrevious, SlotAllTime}
	}
	tracker := j.metrics().Track(TaskSnapshotWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	now := j.now()
	for _, slot := range slots {
		windows, err := slotWindows(slot, now)
		if err != nil {
			logger.Warn("skip unknown warmup slot", slog.String("slot", slot))
			continue
		}
		if err := j.warm(ctx, windows); err != nil {
			logger.Error("warm snapshot", slog.String("slot", slot), slog.Any("error", err))
			return err
		}
		j.metrics().AddWarmed(slot)
	}
	logger.Info("completed snapshot warmup", slog.Int("slots", len(slots)), slog.Duration("duration", time.Since(now)))
	return nil
}

func (j *SnapshotWarmupJob) warm(ctx context.Context, windows []revenue.DateWindow) error {
	ctx, cancel := context.WithTimeout(ctx, warmupSlotTimeout)
	defer cancel()
	_, err := j.Service.GetMetrics(ctx, windows)
	return err
}

var errUnknownSlot = errors.New("snapshot warmup: unknown slot")

func slotWindows(slot string, now time.Time) ([]revenue.DateWindow, error) {
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	switch slot {
	case SlotCurrent:
		return []revenue.DateWindow{{Year: month.Year(), Month: int(month.Month())}}, nil
	case SlotPrevious:
		prev := month.AddDate(0, -1, 0)
		return []revenue.DateWindow{{Year: prev.Year(), Month: int(prev.Month())}}, nil
	case SlotAllTime:
		return nil, nil
	}
	return nil, errUnknownSlot
}

func (j *SnapshotWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSnapshotWarmup))
	}
	return slog.Default().With(slog.String("job", TaskSnapshotWarmup))
}

func (j *SnapshotWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SnapshotWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
