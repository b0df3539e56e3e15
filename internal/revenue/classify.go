package revenue

import "github.com/shopspring/decimal"

// Classification says which revenue bases a row contributes to.
type Classification struct {
	AccrualEligible bool
	CashEligible    bool
	Amount          decimal.Decimal
}

// Classify is pure. Every row counts toward accrual revenue unless its amount
// was coerced. Cash revenue needs both paid status and a payment date.
func Classify(row InvoiceRow) Classification {
	amount := row.LineTotal
	if row.AmountCoerced {
		amount = decimal.Zero
	}
	return Classification{
		AccrualEligible: !row.AmountCoerced,
		CashEligible:    row.Status == StatusPaid && row.DatePaid != nil,
		Amount:          amount,
	}
}
