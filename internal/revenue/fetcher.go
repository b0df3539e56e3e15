package revenue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/revenue/internal/shared"
)

// PageSize matches the default row ceiling of the backing store.
const PageSize = 1000

// FetcherConfig bounds the fetch stage.
type FetcherConfig struct {
	PageSize     int
	PageTimeout  time.Duration
	Attempts     int
	Workers      int
	RetryBackoff time.Duration
	Basis        Basis
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.PageSize <= 0 {
		c.PageSize = PageSize
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 10 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.Basis == "" {
		c.Basis = BasisPaid
	}
	return c
}

// FetchResult is the concatenation of every window, in window order.
type FetchResult struct {
	Rows     []RawRow
	Expected int
	Observed int
}

// Complete reports whether every counted row was received.
func (r FetchResult) Complete() bool {
	return r.Observed == r.Expected
}

// Fetcher retrieves every row matching a list of month windows from a RowSource.
type Fetcher struct {
	source   RowSource
	cfg      FetcherConfig
	logger   *slog.Logger
	recorder Recorder
}

// NewFetcher constructs a Fetcher.
func NewFetcher(source RowSource, cfg FetcherConfig, logger *slog.Logger, recorder Recorder) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{source: source, cfg: cfg.withDefaults(), logger: logger, recorder: recorderOrNop(recorder)}
}

// Fetch retrieves all rows for windows, or for all time when windows is
// empty. Windows run concurrently up to cfg.Workers, pages within a window
// run in order. Duplicate windows are fetched independently. Any window
// failure aborts the whole fetch and no rows are returned.
func (f *Fetcher) Fetch(ctx context.Context, windows []DateWindow) (FetchResult, error) {
	filters := make([]Filter, 0, max(len(windows), 1))
	if len(windows) == 0 {
		filters = append(filters, WindowFilter(nil, f.cfg.Basis))
	}
	for i := range windows {
		filters = append(filters, WindowFilter(&windows[i], f.cfg.Basis))
	}

	states := make([]*windowState, len(filters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for i, filter := range filters {
		st := &windowState{filter: filter}
		states[i] = st
		g.Go(func() error {
			return f.run(gctx, st)
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, canceled(context.Cause(ctx))
		}
		return FetchResult{}, err
	}

	var result FetchResult
	for _, st := range states {
		result.Expected += st.pager.Total
		result.Observed += len(st.rows)
	}
	result.Rows = make([]RawRow, 0, result.Observed)
	for _, st := range states {
		result.Rows = append(result.Rows, st.rows...)
	}
	return result, nil
}

type phase int

const (
	phaseCount phase = iota
	phasePage
	phaseDone
)

// windowState is the resumable position of one window: what to do next, which
// page comes next and what has been accumulated so far.
type windowState struct {
	filter Filter
	phase  phase
	pager  shared.Pagination
	page   int
	cursor Cursor
	rows   []RawRow
}

// step performs one transition. Errors returned here are already classified.
func (f *Fetcher) step(ctx context.Context, st *windowState) error {
	switch st.phase {
	case phaseCount:
		var n int
		err := f.attempt(ctx, st, -1, func(ctx context.Context) error {
			var err error
			n, err = f.source.Count(ctx, st.filter)
			return err
		})
		if err != nil {
			return err
		}
		st.pager = shared.NewPagination(f.cfg.PageSize, n)
		st.phase = phasePage
		if st.pager.TotalPages == 0 {
			st.phase = phaseDone
		}
		return nil

	case phasePage:
		limit := st.pager.Limit(len(st.rows))
		if limit == 0 {
			st.phase = phaseDone
			return nil
		}
		var page []RawRow
		err := f.attempt(ctx, st, st.page, func(ctx context.Context) error {
			var err error
			page, err = f.source.Page(ctx, st.filter, st.cursor, limit)
			return err
		})
		if err != nil {
			return err
		}
		f.recorder.PageFetched(f.source.Name(), len(page))
		if len(page) == 0 {
			// rows disappeared since the count; the completeness flag reports it
			st.phase = phaseDone
			return nil
		}
		st.rows = append(st.rows, page...)
		st.page++
		st.cursor = Cursor{Offset: len(st.rows), After: page[len(page)-1].ID}
		if st.page >= st.pager.TotalPages {
			st.phase = phaseDone
		}
		return nil
	}
	return nil
}

func (f *Fetcher) run(ctx context.Context, st *windowState) error {
	for st.phase != phaseDone {
		if err := ctx.Err(); err != nil {
			return canceled(context.Cause(ctx))
		}
		if err := f.step(ctx, st); err != nil {
			st.rows = nil
			return err
		}
	}
	return nil
}

// attempt runs op with a per-attempt timeout, retrying up to cfg.Attempts.
// page is -1 for the count query.
func (f *Fetcher) attempt(ctx context.Context, st *windowState, page int, op func(context.Context) error) error {
	var lastErr error
	for i := 1; i <= f.cfg.Attempts; i++ {
		actx, cancel := context.WithTimeout(ctx, f.cfg.PageTimeout)
		err := op(actx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return canceled(context.Cause(ctx))
		}
		lastErr = err
		if errors.Is(err, ErrRelationMissing) {
			return f.abort(st, page, i, err)
		}
		if i == f.cfg.Attempts {
			break
		}
		f.recorder.PageRetried(f.source.Name())
		f.logger.Warn("revenue page retry",
			slog.String("window", st.filter.Label),
			slog.Int("page", page),
			slog.Int("attempt", i),
			slog.Any("error", err))
		if err := sleepCtx(ctx, f.cfg.RetryBackoff*time.Duration(i)); err != nil {
			return canceled(context.Cause(ctx))
		}
	}
	return f.abort(st, page, f.cfg.Attempts, lastErr)
}

func (f *Fetcher) abort(st *windowState, page, attempts int, err error) error {
	f.recorder.WindowAborted("partial_fetch")
	f.logger.Error("revenue window aborted",
		slog.String("window", st.filter.Label),
		slog.Int("page", page),
		slog.Int("attempts", attempts),
		slog.Any("error", err))
	return &PartialFetchError{Window: st.filter.Label, Page: page, Attempts: attempts, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
