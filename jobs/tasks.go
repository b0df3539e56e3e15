package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSummaryRefresh rebuilds the materialized revenue summary and
	// invalidates every snapshot cache.
	TaskSummaryRefresh = "revenue:summary_refresh"
	// TaskSnapshotWarmup precomputes dashboard snapshots.
	TaskSnapshotWarmup = "revenue:snapshot_warmup"
)

// Warmup slots.
const (
	SlotCurrent  = "current"
	SlotPrevious = "previous"
	SlotAllTime  = "all"
)

// warmupUniqueTTL collapses bursts of invalidations into one queued warmup.
const warmupUniqueTTL = 30 * time.Second

var taskNamespace = uuid.MustParse("5b8f2f0e-6c1d-4d7e-9a43-0e1b2f6c9d10")

// SummaryRefreshPayload configures one refresh run. EventID de-duplicates
// refreshes requested by the same upstream event.
type SummaryRefreshPayload struct {
	Reason  string `json:"reason,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// SnapshotWarmupPayload selects the slots to warm. Empty means every slot.
type SnapshotWarmupPayload struct {
	Slots []string `json:"slots,omitempty"`
}

// NewSummaryRefreshTask creates an Asynq task for the summary refresh.
func NewSummaryRefreshTask(payload SummaryRefreshPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(5 * time.Minute)}
	if id := strings.TrimSpace(payload.EventID); id != "" {
		opts = append(opts, asynq.TaskID(TaskID(TaskSummaryRefresh, id)))
	}
	return asynq.NewTask(TaskSummaryRefresh, body, opts...), nil
}

// NewSnapshotWarmupTask creates an Asynq task for the snapshot warmup.
func NewSnapshotWarmupTask(payload SnapshotWarmupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSnapshotWarmup, body,
		asynq.Queue(QueueDefault),
		asynq.Unique(warmupUniqueTTL),
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Minute),
	), nil
}

// TaskID derives a stable task id so repeated requests for the same event
// collapse into one queued task.
func TaskID(taskType, key string) string {
	return uuid.NewSHA1(taskNamespace, []byte(taskType+":"+key)).String()
}
