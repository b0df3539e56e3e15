// Package revenuetest provides an in-memory RowSource for tests.
package revenuetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/revenue/internal/revenue"
)

// PageHook runs before each Page call. A non-nil error is returned to the
// caller instead of rows. call counts from 1.
type PageHook func(ctx context.Context, call int, f revenue.Filter, cur revenue.Cursor) error

// Source is a thread-safe RowSource over a fixed row set ordered by id.
type Source struct {
	mu        sync.Mutex
	name      string
	rows      []revenue.RawRow
	countErr  error
	pageHook  PageHook
	countCall int
	pageCall  int
	limits    []int
}

// NewSource returns a source holding rows.
func NewSource(name string, rows ...revenue.RawRow) *Source {
	s := &Source{name: name}
	s.Add(rows...)
	return s
}

// Add inserts rows, keeping id order.
func (s *Source) Add(rows ...revenue.RawRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	sort.SliceStable(s.rows, func(i, j int) bool { return s.rows[i].ID < s.rows[j].ID })
}

// Remove deletes the rows with the given ids.
func (s *Source) Remove(ids ...string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, row := range s.rows {
		if _, ok := drop[row.ID]; !ok {
			kept = append(kept, row)
		}
	}
	s.rows = kept
}

// FailCount makes every Count call return err.
func (s *Source) FailCount(err error) {
	s.mu.Lock()
	s.countErr = err
	s.mu.Unlock()
}

// OnPage installs a hook run before each Page call.
func (s *Source) OnPage(hook PageHook) {
	s.mu.Lock()
	s.pageHook = hook
	s.mu.Unlock()
}

// Calls reports how many Count and Page calls were made.
func (s *Source) Calls() (count, page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countCall, s.pageCall
}

// Limits returns the limit of every Page call in call order.
func (s *Source) Limits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.limits...)
}

// Name implements revenue.RowSource.
func (s *Source) Name() string {
	return s.name
}

// Count implements revenue.RowSource.
func (s *Source) Count(ctx context.Context, f revenue.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCall++
	if s.countErr != nil {
		return 0, s.countErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(s.matching(f)), nil
}

// Page implements revenue.RowSource.
func (s *Source) Page(ctx context.Context, f revenue.Filter, cur revenue.Cursor, limit int) ([]revenue.RawRow, error) {
	s.mu.Lock()
	s.pageCall++
	call := s.pageCall
	hook := s.pageHook
	s.limits = append(s.limits, limit)
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call, f, cur); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.matching(f)
	start := 0
	if cur.After != "" {
		start = sort.Search(len(rows), func(i int) bool { return rows[i].ID > cur.After })
	} else if cur.Offset > 0 {
		start = min(cur.Offset, len(rows))
	}
	end := min(start+limit, len(rows))
	return append([]revenue.RawRow(nil), rows[start:end]...), nil
}

func (s *Source) matching(f revenue.Filter) []revenue.RawRow {
	out := make([]revenue.RawRow, 0, len(s.rows))
	for _, row := range s.rows {
		if f.Status != "" && revenue.NormalizeStatus(deref(row.Status)) != f.Status {
			continue
		}
		if f.Field != revenue.FieldNone && !inRange(row, f) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func inRange(row revenue.RawRow, f revenue.Filter) bool {
	var raw *string
	switch f.Field {
	case revenue.FieldDatePaid:
		raw = row.DatePaid
	case revenue.FieldDateIssued:
		raw = row.DateIssued
	}
	if raw == nil || len(*raw) < 10 {
		return false
	}
	day := (*raw)[:10]
	if !f.From.IsZero() && day < f.From.Format("2006-01-02") {
		return false
	}
	if !f.To.IsZero() && day > f.To.Format("2006-01-02") {
		return false
	}
	return true
}

// Row builds a raw row. Empty strings become NULL columns.
func Row(id, client, status, issued, paid, total string) revenue.RawRow {
	return revenue.RawRow{
		ID:         id,
		ClientName: ptr(client),
		Status:     ptr(status),
		DateIssued: ptr(issued),
		DatePaid:   ptr(paid),
		LineTotal:  ptr(total),
		Currency:   ptr("IDR"),
	}
}

// Rows builds n paid rows with ids inv-00000.. issued and paid on day.
func Rows(n int, day string) []revenue.RawRow {
	out := make([]revenue.RawRow, n)
	for i := range out {
		out[i] = Row(ID(i), fmt.Sprintf("client-%d", i%7), "paid", day, day, "10")
	}
	return out
}

// ID formats a sortable row id.
func ID(i int) string {
	return fmt.Sprintf("inv-%05d", i)
}

func ptr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
