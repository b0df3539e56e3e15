package revenue

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	topClientLimit    = 10
	unknownClientName = "Unknown Client"
)

// Aging bucket labels, in display order.
const (
	Aging0To30  = "0-30"
	Aging31To60 = "31-60"
	Aging61To90 = "61-90"
	AgingOver90 = "90+"
)

var agingLabels = [4]string{Aging0To30, Aging31To60, Aging61To90, AgingOver90}

// MonthlyRevenue is cash revenue for one payment month.
type MonthlyRevenue struct {
	Month        string          `json:"month"`
	Revenue      decimal.Decimal `json:"revenue"`
	InvoiceCount int             `json:"invoiceCount"`
}

// StatusShare is one entry of the status distribution.
type StatusShare struct {
	Status     Status  `json:"status"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ClientRevenue ranks a client by cash revenue.
type ClientRevenue struct {
	ClientName   string          `json:"clientName"`
	CashRevenue  decimal.Decimal `json:"cashRevenue"`
	InvoiceCount int             `json:"invoiceCount"`
}

// AgingBucket aggregates unpaid invoices by days since issue.
type AgingBucket struct {
	Range  string          `json:"range"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// Aggregation holds every rollup over a deduplicated row set.
type Aggregation struct {
	TotalInvoices      int
	CashRevenue        decimal.Decimal
	AccrualRevenue     decimal.Decimal
	StatusCounts       map[Status]int
	MonthlyRevenue     []MonthlyRevenue
	StatusDistribution []StatusShare
	TopClients         []ClientRevenue
	AgingBuckets       [4]AgingBucket
	AveragePaymentDays float64
	AdjustedRecords    int
	DuplicateRows      int
}

// Dedupe drops rows whose id was already seen, keeping the first occurrence.
func Dedupe(rows []InvoiceRow) ([]InvoiceRow, int) {
	seen := make(map[string]struct{}, len(rows))
	out := make([]InvoiceRow, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		out = append(out, row)
	}
	return out, len(rows) - len(out)
}

// Aggregate deduplicates rows by id and computes every rollup. asOf is the
// reference day for aging.
func Aggregate(rows []InvoiceRow, asOf time.Time) Aggregation {
	rows, dupes := Dedupe(rows)
	today := truncateDay(asOf)

	agg := Aggregation{
		TotalInvoices:  len(rows),
		CashRevenue:    decimal.Zero,
		AccrualRevenue: decimal.Zero,
		StatusCounts:   make(map[Status]int),
		DuplicateRows:  dupes,
	}
	for i, label := range agingLabels {
		agg.AgingBuckets[i] = AgingBucket{Range: label, Amount: decimal.Zero}
	}

	months := make(map[string]*MonthlyRevenue)
	clients := make(map[string]int)
	var ranking []ClientRevenue
	var paymentDays int64
	var paymentRows int64

	for _, row := range rows {
		class := Classify(row)
		agg.StatusCounts[row.Status]++
		if row.Adjusted {
			agg.AdjustedRecords++
		}
		if class.AccrualEligible {
			agg.AccrualRevenue = agg.AccrualRevenue.Add(class.Amount)
		}

		if class.CashEligible {
			agg.CashRevenue = agg.CashRevenue.Add(class.Amount)

			month := row.DatePaid.Format(windowLayout)
			bucket, ok := months[month]
			if !ok {
				bucket = &MonthlyRevenue{Month: month, Revenue: decimal.Zero}
				months[month] = bucket
			}
			bucket.Revenue = bucket.Revenue.Add(class.Amount)
			bucket.InvoiceCount++

			name := row.ClientName
			if name == "" {
				name = unknownClientName
			}
			idx, ok := clients[name]
			if !ok {
				idx = len(ranking)
				clients[name] = idx
				ranking = append(ranking, ClientRevenue{ClientName: name, CashRevenue: decimal.Zero})
			}
			ranking[idx].CashRevenue = ranking[idx].CashRevenue.Add(class.Amount)
			ranking[idx].InvoiceCount++

			if row.HasIssueDate() {
				paymentDays += int64(daysBetween(row.DateIssued, *row.DatePaid))
				paymentRows++
			}
		}

		if row.Status != StatusPaid && row.HasIssueDate() {
			b := &agg.AgingBuckets[agingIndex(daysBetween(row.DateIssued, today))]
			b.Amount = b.Amount.Add(class.Amount)
			b.Count++
		}
	}

	agg.MonthlyRevenue = sortedMonths(months)
	agg.StatusDistribution = distribution(agg.StatusCounts, agg.TotalInvoices)
	agg.TopClients = topClients(ranking)
	if paymentRows > 0 {
		agg.AveragePaymentDays = float64(paymentDays) / float64(paymentRows)
	}
	return agg
}

// agingIndex maps days since issue to a bucket. Future-dated issues land in
// the first bucket.
func agingIndex(days int) int {
	switch {
	case days <= 30:
		return 0
	case days <= 60:
		return 1
	case days <= 90:
		return 2
	default:
		return 3
	}
}

func sortedMonths(months map[string]*MonthlyRevenue) []MonthlyRevenue {
	out := make([]MonthlyRevenue, 0, len(months))
	for _, m := range months {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func distribution(counts map[Status]int, total int) []StatusShare {
	out := make([]StatusShare, 0, len(counts))
	for _, s := range knownStatuses {
		if n := counts[s]; n > 0 {
			out = append(out, StatusShare{Status: s, Count: n, Percentage: percentage(n, total)})
		}
	}
	var extra []Status
	for s := range counts {
		if !s.known() {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, s := range extra {
		out = append(out, StatusShare{Status: s, Count: counts[s], Percentage: percentage(counts[s], total)})
	}
	return out
}

func topClients(ranking []ClientRevenue) []ClientRevenue {
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].CashRevenue.GreaterThan(ranking[j].CashRevenue)
	})
	if len(ranking) > topClientLimit {
		ranking = ranking[:topClientLimit]
	}
	if ranking == nil {
		return []ClientRevenue{}
	}
	return ranking
}

const secondsPerDay = 24 * 60 * 60

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole UTC calendar days from a to b; negative when b
// precedes a. Works on Unix days since time.Duration overflows past ~292 years.
func daysBetween(a, b time.Time) int {
	return int(truncateDay(b).Unix()/secondsPerDay - truncateDay(a).Unix()/secondsPerDay)
}
