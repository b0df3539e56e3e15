// Package export renders revenue snapshots for download.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/revenue/internal/revenue"
)

// WriteSnapshotCSV writes every section of the snapshot, separated by blank lines.
func WriteSnapshotCSV(w io.Writer, snap revenue.MetricsSnapshot) error {
	sections := []func(io.Writer, revenue.MetricsSnapshot) error{
		WriteSummaryCSV,
		writeMonthly,
		writeStatus,
		writeClients,
		writeAging,
	}
	for i, section := range sections {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := section(w, snap); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummaryCSV serialises the headline figures as Metric,Value pairs.
func WriteSummaryCSV(w io.Writer, snap revenue.MetricsSnapshot) error {
	return writeRecords(w, []string{"Metric", "Value"}, [][]string{
		{"Window", snap.Window},
		{"As Of", snap.AsOf},
		{"Cash Revenue", formatAmount(snap.CashRevenue)},
		{"Accrual Revenue", formatAmount(snap.AccrualRevenue)},
		{"Total Invoices", strconv.Itoa(snap.TotalInvoices)},
		{"Paid Invoices", strconv.Itoa(snap.PaidInvoices)},
		{"Pending Invoices", strconv.Itoa(snap.PendingInvoices)},
		{"Overdue Invoices", strconv.Itoa(snap.OverdueInvoices)},
		{"Collection Rate", formatFloat(snap.CollectionRate)},
		{"Average Invoice Value", formatAmount(snap.AverageInvoiceValue)},
		{"Average Payment Days", formatFloat(snap.AveragePaymentDays)},
		{"Complete", strconv.FormatBool(snap.IsComplete)},
		{"Adjusted Records", strconv.Itoa(snap.AdjustedRecords)},
	})
}

// WriteMonthlyCSV emits the monthly cash revenue series.
func WriteMonthlyCSV(w io.Writer, points []revenue.MonthlyRevenue) error {
	records := make([][]string, 0, len(points))
	for _, p := range points {
		records = append(records, []string{p.Month, formatAmount(p.Revenue), strconv.Itoa(p.InvoiceCount)})
	}
	return writeRecords(w, []string{"Month", "Revenue", "Invoices"}, records)
}

// WriteAgingCSV prints aging buckets.
func WriteAgingCSV(w io.Writer, buckets []revenue.AgingBucket) error {
	records := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		records = append(records, []string{b.Range, formatAmount(b.Amount), strconv.Itoa(b.Count)})
	}
	return writeRecords(w, []string{"Bucket", "Amount", "Invoices"}, records)
}

func writeMonthly(w io.Writer, snap revenue.MetricsSnapshot) error {
	return WriteMonthlyCSV(w, snap.MonthlyRevenue)
}

func writeAging(w io.Writer, snap revenue.MetricsSnapshot) error {
	return WriteAgingCSV(w, snap.AgingBuckets)
}

func writeStatus(w io.Writer, snap revenue.MetricsSnapshot) error {
	records := make([][]string, 0, len(snap.StatusDistribution))
	for _, s := range snap.StatusDistribution {
		records = append(records, []string{string(s.Status), strconv.Itoa(s.Count), formatFloat(s.Percentage)})
	}
	return writeRecords(w, []string{"Status", "Invoices", "Percentage"}, records)
}

func writeClients(w io.Writer, snap revenue.MetricsSnapshot) error {
	records := make([][]string, 0, len(snap.TopClients))
	for i, c := range snap.TopClients {
		records = append(records, []string{strconv.Itoa(i + 1), c.ClientName, formatAmount(c.CashRevenue), strconv.Itoa(c.InvoiceCount)})
	}
	return writeRecords(w, []string{"Rank", "Client", "Cash Revenue", "Invoices"}, records)
}

func writeRecords(w io.Writer, header []string, records [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Error()
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
