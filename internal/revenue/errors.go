package revenue

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRelationMissing reports that the queried relation does not exist.
	ErrRelationMissing = errors.New("revenue: relation does not exist")
	// ErrPartialFetch marks a window whose page fetch failed after exhausting retries.
	ErrPartialFetch = errors.New("revenue: partial fetch")
	// ErrCanceled marks caller-initiated cancellation of a fetch.
	ErrCanceled = errors.New("revenue: fetch canceled")
	// ErrInvalidWindow rejects malformed date windows.
	ErrInvalidWindow = errors.New("revenue: invalid window")
)

// PartialFetchError carries the failing window and page. It matches both
// ErrPartialFetch and the underlying cause with errors.Is.
type PartialFetchError struct {
	Window   string
	Page     int
	Attempts int
	Err      error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("revenue: window %s page %d failed after %d attempts: %v", e.Window, e.Page, e.Attempts, e.Err)
}

func (e *PartialFetchError) Unwrap() []error {
	return []error{ErrPartialFetch, e.Err}
}

// MalformedRow describes a row that was coerced during parsing.
type MalformedRow struct {
	ID     string
	Reason string
}

func (m MalformedRow) String() string {
	return m.ID + ": " + m.Reason
}

func canceled(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
