package revenue

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is a normalised invoice status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	// StatusUnknown stands in for a missing status.
	StatusUnknown   Status = "unknown"
)

// knownStatuses fixes the distribution order for statuses the billing system documents.
var knownStatuses = []Status{StatusDraft, StatusSent, StatusPending, StatusPaid, StatusOverdue, StatusCancelled}

// NormalizeStatus lowercases and trims a raw status. Unrecognised values are
// kept verbatim, an empty one becomes StatusUnknown.
func NormalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StatusUnknown
	}
	return Status(s)
}

func (s Status) known() bool {
	for _, k := range knownStatuses {
		if s == k {
			return true
		}
	}
	return false
}

// RawRow is a row as returned by a relation, before validation. Every column
// arrives as optional text.
type RawRow struct {
	ID         string
	ClientName *string
	Status     *string
	DateIssued *string
	DatePaid   *string
	LineTotal  *string
	Currency   *string
}

// InvoiceRow is a validated billing record.
type InvoiceRow struct {
	ID         string
	ClientName string
	Status     Status
	DateIssued time.Time
	DatePaid   *time.Time
	LineTotal  decimal.Decimal
	Currency   string

	// AmountCoerced is set when LineTotal was replaced by zero.
	AmountCoerced bool
	// Adjusted is set when any field was coerced during parsing.
	Adjusted bool
}

// HasIssueDate reports whether DateIssued was present and parsable.
func (r InvoiceRow) HasIssueDate() bool {
	return !r.DateIssued.IsZero()
}

// ParseRow validates a raw row. A non-nil MalformedRow means the returned row
// was coerced and should be reported, but it is still usable.
func ParseRow(raw RawRow) (InvoiceRow, *MalformedRow) {
	row := InvoiceRow{
		ID:         raw.ID,
		ClientName: strings.TrimSpace(deref(raw.ClientName)),
		Status:     NormalizeStatus(deref(raw.Status)),
		Currency:   strings.TrimSpace(deref(raw.Currency)),
		LineTotal:  decimal.Zero,
	}
	var reasons []string

	switch amount, ok := parseAmount(raw.LineTotal); {
	case !ok:
		row.AmountCoerced = true
		reasons = append(reasons, "line_total unparsable")
	case amount.IsNegative():
		row.AmountCoerced = true
		reasons = append(reasons, "line_total negative")
	default:
		row.LineTotal = amount
	}

	if issued, ok := parseDate(raw.DateIssued); ok {
		row.DateIssued = issued
	} else {
		reasons = append(reasons, "date_issued missing or unparsable")
	}

	if raw.DatePaid != nil && strings.TrimSpace(*raw.DatePaid) != "" {
		if paid, ok := parseDate(raw.DatePaid); ok {
			row.DatePaid = &paid
		} else {
			reasons = append(reasons, "date_paid unparsable")
		}
	}

	if len(reasons) == 0 {
		return row, nil
	}
	row.Adjusted = true
	return row, &MalformedRow{ID: raw.ID, Reason: strings.Join(reasons, "; ")}
}

// ParseRows validates every raw row, preserving order.
func ParseRows(raws []RawRow) ([]InvoiceRow, []MalformedRow) {
	rows := make([]InvoiceRow, 0, len(raws))
	var malformed []MalformedRow
	for _, raw := range raws {
		row, bad := ParseRow(raw)
		rows = append(rows, row)
		if bad != nil {
			malformed = append(malformed, *bad)
		}
	}
	return rows, malformed
}

func parseAmount(raw *string) (decimal.Decimal, bool) {
	if raw == nil {
		return decimal.Zero, false
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

// parseDate accepts a calendar date or any timestamp starting with one and
// truncates to UTC midnight.
func parseDate(raw *string) (time.Time, bool) {
	if raw == nil {
		return time.Time{}, false
	}
	value := strings.TrimSpace(*raw)
	if len(value) < len(dateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, value[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
