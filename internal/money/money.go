// Package money computes sale totals with fixed-point decimal arithmetic.
// Binary floats are never used on money paths; repeated sales must not
// accumulate rounding drift.
package money

import "github.com/shopspring/decimal"

// Totals is the priced breakdown of a single sale line.
type Totals struct {
	Taxable decimal.Decimal
	Tax     decimal.Decimal
	Total   decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Compute prices qty units at the given unit price, applies the discount and
// the percentage tax rate:
//
//	taxable = max(0, price*qty - discount)
//	tax     = round(taxable * rate / 100, 2)
//	total   = round(taxable + tax, 2)
//
// A discount larger than the subtotal is absorbed, not rejected: the taxable
// amount floors at zero. Rounding is decimal half-away-from-zero at two
// places. Every money field in the result carries at most two decimals, so
// total = taxable + tax holds on the persisted record, not just pre-rounding.
func Compute(price decimal.Decimal, qty int, discount decimal.Decimal, taxRatePercent decimal.Decimal) Totals {
	subtotal := price.Mul(decimal.NewFromInt(int64(qty))).Sub(discount)
	taxable := subtotal
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	tax := taxable.Mul(taxRatePercent).Div(hundred).Round(2)
	return Totals{
		Taxable: taxable,
		Tax:     tax,
		Total:   taxable.Add(tax).Round(2),
	}
}
