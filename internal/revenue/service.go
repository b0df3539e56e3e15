package revenue

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Service is the single entry point for revenue snapshots.
type Service struct {
	fetcher  *Fetcher
	cache    *SnapshotCache
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewService wires the fetch pipeline with an optional cache.
func NewService(fetcher *Fetcher, cache *SnapshotCache, logger *slog.Logger, recorder Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{fetcher: fetcher, cache: cache, logger: logger, recorder: recorderOrNop(recorder), now: time.Now}
}

// WithNow overrides the clock used for aging and cache keys.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// GetMetrics returns the snapshot for windows, or for all time when windows is
// empty. Errors match ErrInvalidWindow, ErrPartialFetch or ErrCanceled.
func (s *Service) GetMetrics(ctx context.Context, windows []DateWindow) (MetricsSnapshot, error) {
	if err := validateWindows(windows); err != nil {
		return MetricsSnapshot{}, err
	}
	asOf := truncateDay(s.now())
	key := WindowKey(windows)
	if s.cache == nil {
		return s.compute(ctx, windows, key, asOf)
	}
	windows = slices.Clone(windows)
	return s.cache.Get(ctx, key+":"+asOf.Format(dateLayout), func(ctx context.Context) (MetricsSnapshot, error) {
		return s.compute(ctx, windows, key, asOf)
	})
}

// Compute bypasses the cache.
func (s *Service) Compute(ctx context.Context, windows []DateWindow) (MetricsSnapshot, error) {
	if err := validateWindows(windows); err != nil {
		return MetricsSnapshot{}, err
	}
	return s.compute(ctx, windows, WindowKey(windows), truncateDay(s.now()))
}

// Invalidate drops every cached snapshot.
func (s *Service) Invalidate(ctx context.Context, reason string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, reason)
}

func (s *Service) compute(ctx context.Context, windows []DateWindow, key string, asOf time.Time) (MetricsSnapshot, error) {
	fetched, err := s.fetcher.Fetch(ctx, windows)
	if err != nil {
		return MetricsSnapshot{}, err
	}
	rows, malformed := ParseRows(fetched.Rows)
	for _, m := range malformed {
		s.logger.Warn("revenue row adjusted", slog.String("id", m.ID), slog.String("reason", m.Reason))
	}
	s.recorder.MalformedRows(len(malformed))

	snap := Assemble(key, asOf, Aggregate(rows, asOf), fetched)
	if !snap.IsComplete {
		s.logger.Warn("revenue snapshot incomplete",
			slog.String("window", key),
			slog.Int("expected", snap.ExpectedRows),
			slog.Int("observed", snap.ObservedRows))
	}
	return snap, nil
}
