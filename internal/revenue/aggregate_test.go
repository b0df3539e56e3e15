package revenue_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/revenue/internal/revenue"
	"github.com/odyssey-erp/revenue/internal/revenue/revenuetest"
)

var asOf = time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC)

func parse(t *testing.T, raws ...revenue.RawRow) []revenue.InvoiceRow {
	t.Helper()
	rows, _ := revenue.ParseRows(raws)
	return rows
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAggregateScenario(t *testing.T) {
	rows := parse(t,
		revenuetest.Row("A", "Acme", "paid", "2024-01-01", "2024-01-10", "100"),
		revenuetest.Row("B", "Beta", "pending", "2024-01-05", "", "50"),
		revenuetest.Row("C", "Gamma", "paid", "2024-01-01", "", "75"),
	)
	agg := revenue.Aggregate(rows, asOf)
	snap := revenue.Assemble("all", asOf, agg, revenue.FetchResult{Expected: 3, Observed: 3})

	require.True(t, snap.AccrualRevenue.Equal(dec("225")), snap.AccrualRevenue.String())
	require.True(t, snap.CashRevenue.Equal(dec("100")), snap.CashRevenue.String())
	require.Equal(t, 3, snap.TotalInvoices)
	require.Equal(t, 2, snap.PaidInvoices)
	require.Equal(t, 1, snap.PendingInvoices)
	require.InDelta(t, 66.67, snap.CollectionRate, 0.001)
	require.Len(t, snap.MonthlyRevenue, 1)
	require.Equal(t, "2024-01", snap.MonthlyRevenue[0].Month)
	require.True(t, snap.MonthlyRevenue[0].Revenue.Equal(dec("100")))
	require.Equal(t, 1, snap.MonthlyRevenue[0].InvoiceCount)
	require.Equal(t, 9.0, snap.AveragePaymentDays)
	require.True(t, snap.AverageInvoiceValue.Equal(dec("33.33")), snap.AverageInvoiceValue.String())
	require.True(t, snap.IsComplete)
	require.Zero(t, snap.AdjustedRecords)
}

func TestAggregatePaidWithoutPaymentDateIsAccrualOnly(t *testing.T) {
	rows := parse(t,
		revenuetest.Row("C", "Gamma", "paid", "2024-01-01", "", "75"),
	)
	agg := revenue.Aggregate(rows, asOf)

	require.True(t, agg.AccrualRevenue.Equal(dec("75")))
	require.True(t, agg.CashRevenue.IsZero())
	require.Equal(t, 1, agg.StatusCounts[revenue.StatusPaid])
	require.Empty(t, agg.MonthlyRevenue)
	require.Empty(t, agg.TopClients)
	require.Zero(t, agg.AveragePaymentDays)
	for _, b := range agg.AgingBuckets {
		require.Zero(t, b.Count, "paid rows never age")
	}
}

func TestClassify(t *testing.T) {
	paid := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		row     revenue.InvoiceRow
		accrual bool
		cash    bool
	}{
		{"paid with date", revenue.InvoiceRow{Status: revenue.StatusPaid, DatePaid: &paid, LineTotal: dec("1")}, true, true},
		{"paid without date", revenue.InvoiceRow{Status: revenue.StatusPaid, LineTotal: dec("1")}, true, false},
		{"overdue with date", revenue.InvoiceRow{Status: revenue.StatusOverdue, DatePaid: &paid, LineTotal: dec("1")}, true, false},
		{"coerced amount", revenue.InvoiceRow{Status: revenue.StatusPaid, DatePaid: &paid, AmountCoerced: true}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := revenue.Classify(tc.row)
			require.Equal(t, tc.accrual, c.AccrualEligible)
			require.Equal(t, tc.cash, c.CashEligible)
			if tc.row.AmountCoerced {
				require.True(t, c.Amount.IsZero())
			}
		})
	}
}

func TestAggregateAgingBoundaries(t *testing.T) {
	day := func(daysAgo int) string {
		return asOf.AddDate(0, 0, -daysAgo).Format("2006-01-02")
	}
	rows := parse(t,
		revenuetest.Row("future", "X", "sent", day(-5), "", "1"),
		revenuetest.Row("d30", "X", "pending", day(30), "", "2"),
		revenuetest.Row("d31", "X", "pending", day(31), "", "4"),
		revenuetest.Row("d60", "X", "overdue", day(60), "", "8"),
		revenuetest.Row("d61", "X", "overdue", day(61), "", "16"),
		revenuetest.Row("d90", "X", "overdue", day(90), "", "32"),
		revenuetest.Row("d91", "X", "overdue", day(91), "", "64"),
		revenuetest.Row("paid", "X", "paid", day(200), day(1), "128"),
	)
	snap := revenue.Assemble("all", asOf, revenue.Aggregate(rows, asOf), revenue.FetchResult{})

	require.Len(t, snap.AgingBuckets, 4)
	require.Equal(t, []string{"0-30", "31-60", "61-90", "90+"}, []string{
		snap.AgingBuckets[0].Range, snap.AgingBuckets[1].Range, snap.AgingBuckets[2].Range, snap.AgingBuckets[3].Range,
	})

	first := snap.Aging(revenue.Aging0To30)
	require.Equal(t, 2, first.Count)
	require.True(t, first.Amount.Equal(dec("3")))

	second := snap.Aging(revenue.Aging31To60)
	require.Equal(t, 2, second.Count)
	require.True(t, second.Amount.Equal(dec("12")))

	third := snap.Aging(revenue.Aging61To90)
	require.Equal(t, 2, third.Count)
	require.True(t, third.Amount.Equal(dec("48")))

	last := snap.Aging(revenue.AgingOver90)
	require.Equal(t, 1, last.Count)
	require.True(t, last.Amount.Equal(dec("64")))
}

func TestAggregateDeduplicatesById(t *testing.T) {
	row := revenuetest.Row("A", "Acme", "paid", "2024-01-01", "2024-01-10", "100")
	agg := revenue.Aggregate(parse(t, row, row, row), asOf)

	require.Equal(t, 1, agg.TotalInvoices)
	require.Equal(t, 2, agg.DuplicateRows)
	require.True(t, agg.CashRevenue.Equal(dec("100")))
}

func TestAggregateTopClients(t *testing.T) {
	var raws []revenue.RawRow
	for i := 0; i < 12; i++ {
		raws = append(raws, revenuetest.Row(fmt.Sprintf("r%02d", i), fmt.Sprintf("client-%02d", i), "paid", "2024-01-01", "2024-01-02", fmt.Sprint(10+i)))
	}
	// ties keep first-seen order
	raws = append(raws,
		revenuetest.Row("t1", "tie-first", "paid", "2024-01-01", "2024-01-02", "500"),
		revenuetest.Row("t2", "tie-second", "paid", "2024-01-01", "2024-01-02", "500"),
		revenuetest.Row("u1", "", "paid", "2024-01-01", "2024-01-02", "40"),
		revenuetest.Row("u2", "  ", "paid", "2024-01-01", "2024-01-02", "30"),
		revenuetest.Row("p1", "pending-only", "pending", "2024-01-01", "", "9999"),
	)
	agg := revenue.Aggregate(parse(t, raws...), asOf)

	require.Len(t, agg.TopClients, 10)
	require.Equal(t, "tie-first", agg.TopClients[0].ClientName)
	require.Equal(t, "tie-second", agg.TopClients[1].ClientName)
	require.Equal(t, "Unknown Client", agg.TopClients[2].ClientName)
	require.True(t, agg.TopClients[2].CashRevenue.Equal(dec("70")))
	require.Equal(t, 2, agg.TopClients[2].InvoiceCount)
	require.Equal(t, "client-11", agg.TopClients[3].ClientName)
	for _, c := range agg.TopClients {
		require.NotEqual(t, "pending-only", c.ClientName)
	}
	for i := 1; i < len(agg.TopClients); i++ {
		require.False(t, agg.TopClients[i].CashRevenue.GreaterThan(agg.TopClients[i-1].CashRevenue))
	}
}

func TestAggregateMonthlySeriesUsesPaymentMonth(t *testing.T) {
	rows := parse(t,
		revenuetest.Row("a", "Acme", "paid", "2023-11-20", "2024-02-03", "10"),
		revenuetest.Row("b", "Acme", "paid", "2024-01-20", "2024-01-21", "5"),
		revenuetest.Row("c", "Acme", "paid", "2024-01-25", "2024-02-28", "7"),
	)
	agg := revenue.Aggregate(rows, asOf)

	require.Len(t, agg.MonthlyRevenue, 2)
	require.Equal(t, "2024-01", agg.MonthlyRevenue[0].Month)
	require.True(t, agg.MonthlyRevenue[0].Revenue.Equal(dec("5")))
	require.Equal(t, "2024-02", agg.MonthlyRevenue[1].Month)
	require.True(t, agg.MonthlyRevenue[1].Revenue.Equal(dec("17")))
	require.Equal(t, 2, agg.MonthlyRevenue[1].InvoiceCount)
	// (75 + 1 + 34) / 3, kept unrounded
	require.InDelta(t, 110.0/3, agg.AveragePaymentDays, 1e-9)
}

func TestAggregatePaymentDaysSpanCenturies(t *testing.T) {
	rows := parse(t,
		revenuetest.Row("a", "Acme", "paid", "0002-03-04", "2024-01-01", "10"),
		revenuetest.Row("b", "Acme", "paid", "2024-01-01", "2024-01-11", "10"),
	)
	agg := revenue.Aggregate(rows, asOf)

	require.InDelta(t, float64(738458+10)/2, agg.AveragePaymentDays, 1e-9)
}

func TestAggregateStatusDistribution(t *testing.T) {
	rows := parse(t,
		revenuetest.Row("a", "X", "Paid ", "2024-01-01", "2024-01-02", "1"),
		revenuetest.Row("b", "X", "void", "2024-01-01", "", "1"),
		revenuetest.Row("c", "X", "draft", "2024-01-01", "", "1"),
		revenuetest.Row("d", "X", "", "2024-01-01", "", "1"),
	)
	agg := revenue.Aggregate(rows, asOf)

	require.Equal(t, []revenue.StatusShare{
		{Status: revenue.StatusDraft, Count: 1, Percentage: 25},
		{Status: revenue.StatusPaid, Count: 1, Percentage: 25},
		{Status: revenue.StatusUnknown, Count: 1, Percentage: 25},
		{Status: "void", Count: 1, Percentage: 25},
	}, agg.StatusDistribution)
}

func TestAggregateMalformedRowsAreCoercedAndCounted(t *testing.T) {
	raws := []revenue.RawRow{
		revenuetest.Row("a", "X", "paid", "2024-01-01", "2024-01-02", "abc"),
		revenuetest.Row("b", "X", "pending", "2024-01-01", "", "-5"),
		revenuetest.Row("c", "X", "pending", "", "", "7"),
		revenuetest.Row("d", "X", "pending", "2024-01-01", "", "3.50"),
	}
	rows, malformed := revenue.ParseRows(raws)
	require.Len(t, malformed, 3)
	require.Equal(t, "a", malformed[0].ID)
	require.Contains(t, malformed[0].Reason, "line_total")
	require.Contains(t, malformed[2].Reason, "date_issued")

	agg := revenue.Aggregate(rows, asOf)
	require.Equal(t, 4, agg.TotalInvoices)
	require.Equal(t, 3, agg.AdjustedRecords)
	require.True(t, agg.AccrualRevenue.Equal(dec("10.5")), agg.AccrualRevenue.String())
	require.True(t, agg.CashRevenue.IsZero())
	// the row without an issue date cannot be aged
	total := 0
	for _, b := range agg.AgingBuckets {
		total += b.Count
	}
	require.Equal(t, 2, total)
}

func TestAssembleEmptyInputGuardsRatios(t *testing.T) {
	snap := revenue.Assemble("all", asOf, revenue.Aggregate(nil, asOf), revenue.FetchResult{})

	require.Zero(t, snap.TotalInvoices)
	require.True(t, snap.CashRevenue.IsZero())
	require.True(t, snap.AccrualRevenue.IsZero())
	require.Zero(t, snap.CollectionRate)
	require.True(t, snap.AverageInvoiceValue.IsZero())
	require.Zero(t, snap.AveragePaymentDays)
	require.True(t, snap.IsComplete)
	require.Len(t, snap.AgingBuckets, 4)
	require.NotNil(t, snap.MonthlyRevenue)
	require.NotNil(t, snap.TopClients)
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	rows := parse(t, revenuetest.Row("A", "Acme", "paid", "2024-01-01", "2024-01-10", "100"))
	snap := revenue.Assemble("all", asOf, revenue.Aggregate(rows, asOf), revenue.FetchResult{Expected: 1, Observed: 1})
	clone := snap.Clone()
	clone.TopClients[0].ClientName = "changed"
	clone.AgingBuckets[0].Count = 99

	require.Equal(t, "Acme", snap.TopClients[0].ClientName)
	require.Zero(t, snap.AgingBuckets[0].Count)
}
