package revenue

import (
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// MetricsSnapshot is the immutable result of one GetMetrics call. Callers get
// their own copy and may share it read-only.
type MetricsSnapshot struct {
	Window string `json:"window"`
	AsOf   string `json:"asOf"`

	CashRevenue    decimal.Decimal `json:"cashRevenue"`
	AccrualRevenue decimal.Decimal `json:"accrualRevenue"`

	TotalInvoices     int `json:"totalInvoices"`
	PaidInvoices      int `json:"paidInvoices"`
	PendingInvoices   int `json:"pendingInvoices"`
	OverdueInvoices   int `json:"overdueInvoices"`
	SentInvoices      int `json:"sentInvoices"`
	DraftInvoices     int `json:"draftInvoices"`
	CancelledInvoices int `json:"cancelledInvoices"`

	MonthlyRevenue     []MonthlyRevenue `json:"monthlyRevenue"`
	StatusDistribution []StatusShare    `json:"statusDistribution"`
	TopClients         []ClientRevenue  `json:"topClients"`
	AgingBuckets       []AgingBucket    `json:"agingBuckets"`
	AveragePaymentDays float64          `json:"averagePaymentDays"`

	CollectionRate      float64         `json:"collectionRate"`
	AverageInvoiceValue decimal.Decimal `json:"averageInvoiceValue"`

	ExpectedRows    int  `json:"expectedRows"`
	ObservedRows    int  `json:"observedRows"`
	IsComplete      bool `json:"isComplete"`
	AdjustedRecords int  `json:"adjustedRecords"`
}

// Assemble combines the rollups and fetch bookkeeping into a snapshot. It has
// no side effects.
func Assemble(window string, asOf time.Time, agg Aggregation, fetch FetchResult) MetricsSnapshot {
	snap := MetricsSnapshot{
		Window:              window,
		AsOf:                truncateDay(asOf).Format(dateLayout),
		CashRevenue:         agg.CashRevenue,
		AccrualRevenue:      agg.AccrualRevenue,
		TotalInvoices:       agg.TotalInvoices,
		PaidInvoices:        agg.StatusCounts[StatusPaid],
		PendingInvoices:     agg.StatusCounts[StatusPending],
		OverdueInvoices:     agg.StatusCounts[StatusOverdue],
		SentInvoices:        agg.StatusCounts[StatusSent],
		DraftInvoices:       agg.StatusCounts[StatusDraft],
		CancelledInvoices:   agg.StatusCounts[StatusCancelled],
		MonthlyRevenue:      nonNil(agg.MonthlyRevenue),
		StatusDistribution:  nonNil(agg.StatusDistribution),
		TopClients:          nonNil(agg.TopClients),
		AgingBuckets:        agg.AgingBuckets[:],
		AveragePaymentDays:  agg.AveragePaymentDays,
		CollectionRate:      percentage(agg.StatusCounts[StatusPaid], agg.TotalInvoices),
		AverageInvoiceValue: decimal.Zero,
		ExpectedRows:        fetch.Expected,
		ObservedRows:        fetch.Observed,
		IsComplete:          fetch.Complete(),
		AdjustedRecords:     agg.AdjustedRecords,
	}
	if agg.TotalInvoices > 0 {
		snap.AverageInvoiceValue = agg.CashRevenue.DivRound(decimal.NewFromInt(int64(agg.TotalInvoices)), 2)
	}
	return snap
}

// Clone returns a deep copy.
func (s MetricsSnapshot) Clone() MetricsSnapshot {
	s.MonthlyRevenue = slices.Clone(s.MonthlyRevenue)
	s.StatusDistribution = slices.Clone(s.StatusDistribution)
	s.TopClients = slices.Clone(s.TopClients)
	s.AgingBuckets = slices.Clone(s.AgingBuckets)
	return s
}

// Aging returns the bucket with the given range label.
func (s MetricsSnapshot) Aging(label string) AgingBucket {
	for _, b := range s.AgingBuckets {
		if b.Range == label {
			return b
		}
	}
	return AgingBucket{Range: label, Amount: decimal.Zero}
}

func percentage(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return roundRatio(float64(n) / float64(total) * 100)
}

// roundRatio rounds to two decimals and never yields NaN or Inf.
func roundRatio(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
