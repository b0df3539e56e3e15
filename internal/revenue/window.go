package revenue

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	windowLayout = "2006-01"
	dateLayout   = "2006-01-02"
	allTimeKey   = "all"
)

var windowValidator = validator.New()

// DateWindow denotes one calendar month, first to last day inclusive.
type DateWindow struct {
	Year  int `json:"year" validate:"gte=1900,lte=9999"`
	Month int `json:"month" validate:"gte=1,lte=12"`
}

// ParseWindow reads a YYYY-MM token.
func ParseWindow(token string) (DateWindow, error) {
	t, err := time.Parse(windowLayout, strings.TrimSpace(token))
	if err != nil {
		return DateWindow{}, fmt.Errorf("%w: %q", ErrInvalidWindow, token)
	}
	w := DateWindow{Year: t.Year(), Month: int(t.Month())}
	if err := w.Validate(); err != nil {
		return DateWindow{}, err
	}
	return w, nil
}

// Validate checks the year and month ranges.
func (w DateWindow) Validate() error {
	if err := windowValidator.Struct(w); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidWindow, w, err)
	}
	return nil
}

// Bounds returns the first and last calendar day of the month in UTC.
func (w DateWindow) Bounds() (time.Time, time.Time) {
	from := time.Date(w.Year, time.Month(w.Month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	return from, to
}

func (w DateWindow) String() string {
	return fmt.Sprintf("%04d-%02d", w.Year, w.Month)
}

func (w DateWindow) before(o DateWindow) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Month < o.Month
}

// WindowKey normalises a window list for cache purposes: order independent and
// de-duplicated. Fetching never uses this form.
func WindowKey(windows []DateWindow) string {
	if len(windows) == 0 {
		return allTimeKey
	}
	seen := make(map[DateWindow]struct{}, len(windows))
	uniq := make([]DateWindow, 0, len(windows))
	for _, w := range windows {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		uniq = append(uniq, w)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].before(uniq[j]) })
	parts := make([]string, len(uniq))
	for i, w := range uniq {
		parts[i] = w.String()
	}
	return strings.Join(parts, ",")
}

func validateWindows(windows []DateWindow) error {
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}
