package revenue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Basis selects which date column a month window filters on.
type Basis string

const (
	// BasisPaid restricts windows to paid rows whose date_paid falls inside the month.
	BasisPaid Basis = "paid"
	// BasisIssued restricts windows by date_issued, any status.
	BasisIssued Basis = "issued"
)

// ParseBasis validates a configured basis, defaulting to BasisPaid.
func ParseBasis(raw string) (Basis, error) {
	switch Basis(raw) {
	case "", BasisPaid:
		return BasisPaid, nil
	case BasisIssued:
		return BasisIssued, nil
	default:
		return "", fmt.Errorf("revenue: unknown window basis %q", raw)
	}
}

// DateField names the column a Filter's bounds apply to.
type DateField string

const (
	FieldNone       DateField = ""
	FieldDatePaid   DateField = "date_paid"
	FieldDateIssued DateField = "date_issued"
)

// Filter is the logical predicate handed to a RowSource. Zero value matches
// every row.
type Filter struct {
	Label  string
	Status Status
	Field  DateField
	From   time.Time
	To     time.Time
}

// WindowFilter builds the filter for one month, or for all time when w is nil.
func WindowFilter(w *DateWindow, basis Basis) Filter {
	if w == nil {
		return Filter{Label: allTimeKey}
	}
	from, to := w.Bounds()
	f := Filter{Label: w.String(), From: from, To: to, Field: FieldDateIssued}
	if basis != BasisIssued {
		f.Status = StatusPaid
		f.Field = FieldDatePaid
	}
	return f
}

// Cursor positions a page request. After holds the id of the last row already
// received and is empty for the first page; Offset is the number of rows
// already received.
type Cursor struct {
	Offset int
	After  string
}

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/odyssey-erp/revenue/internal/revenue RowSource

// RowSource is a relation that can count and page invoice rows in ascending id
// order. Implementations report a missing relation with ErrRelationMissing.
type RowSource interface {
	Name() string
	Count(ctx context.Context, f Filter) (int, error)
	Page(ctx context.Context, f Filter, cur Cursor, limit int) ([]RawRow, error)
}

// FallbackSource prefers the primary relation and switches to the fallback for
// good once the primary reports ErrRelationMissing.
type FallbackSource struct {
	primary  RowSource
	fallback RowSource
	degraded atomic.Bool
	logger   *slog.Logger
	recorder Recorder
}

// NewFallbackSource composes the analytics view with the raw table.
func NewFallbackSource(primary, fallback RowSource, logger *slog.Logger, recorder Recorder) *FallbackSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSource{primary: primary, fallback: fallback, logger: logger, recorder: recorderOrNop(recorder)}
}

// Name reports the relation currently in use.
func (s *FallbackSource) Name() string {
	return s.active().Name()
}

// Probe checks whether the primary relation exists and switches to the
// fallback if it does not.
func (s *FallbackSource) Probe(ctx context.Context) error {
	_, err := s.Count(ctx, Filter{})
	return err
}

// Count implements RowSource.
func (s *FallbackSource) Count(ctx context.Context, f Filter) (int, error) {
	onPrimary := !s.degraded.Load()
	n, err := s.pick(onPrimary).Count(ctx, f)
	if onPrimary && s.switchOver(err) {
		return s.fallback.Count(ctx, f)
	}
	return n, err
}

// Page implements RowSource.
func (s *FallbackSource) Page(ctx context.Context, f Filter, cur Cursor, limit int) ([]RawRow, error) {
	onPrimary := !s.degraded.Load()
	rows, err := s.pick(onPrimary).Page(ctx, f, cur, limit)
	if onPrimary && s.switchOver(err) {
		return s.fallback.Page(ctx, f, cur, limit)
	}
	return rows, err
}

func (s *FallbackSource) active() RowSource {
	return s.pick(!s.degraded.Load())
}

func (s *FallbackSource) pick(primary bool) RowSource {
	if primary {
		return s.primary
	}
	return s.fallback
}

// switchOver reports whether the call should be repeated on the fallback.
func (s *FallbackSource) switchOver(err error) bool {
	if err == nil || !errors.Is(err, ErrRelationMissing) {
		return false
	}
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Info("revenue relation missing, using fallback",
			slog.String("primary", s.primary.Name()),
			slog.String("fallback", s.fallback.Name()))
		s.recorder.RelationFallback(s.primary.Name(), s.fallback.Name())
	}
	return true
}
