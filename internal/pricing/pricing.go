// Package pricing computes authoritative order totals. Client-submitted totals
// are never an input here.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

// TaxRate is the flat tax applied to every order subtotal.
var TaxRate = decimal.RequireFromString("0.05")

// Line is the pricing view of an order line item.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Breakdown is the server-computed pricing of an order.
type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Price computes subtotal, tax and total. Only the tax figure is rounded
// (half-up, 2 places) before it is summed with subtotal and shipping.
func Price(lines []Line, shipping decimal.Decimal) (Breakdown, error) {
	if shipping.IsNegative() {
		return Breakdown{}, apperr.Validation("invalid_shipping", "shipping must be >= 0, got %s", shipping)
	}

	subtotal := decimal.Zero
	for i, l := range lines {
		if l.Quantity < 1 {
			return Breakdown{}, apperr.Validation("invalid_quantity", "line %d: quantity must be >= 1", i)
		}
		if l.UnitPrice.IsNegative() {
			return Breakdown{}, apperr.Validation("invalid_price", "line %d: unit price must be >= 0", i)
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	tax := RoundHalfUp(subtotal.Mul(TaxRate), 2)

	return Breakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}, nil
}

// Verify reports whether b satisfies the pricing identity for lines and shipping.
// A stored order failing this check is a data-integrity bug.
func Verify(b Breakdown, lines []Line, shipping decimal.Decimal) error {
	want, err := Price(lines, shipping)
	if err != nil {
		return err
	}
	if !want.Subtotal.Equal(b.Subtotal) || !want.Tax.Equal(b.Tax) ||
		!want.Shipping.Equal(b.Shipping) || !want.Total.Equal(b.Total) {
		return fmt.Errorf("pricing mismatch: stored %s/%s/%s/%s, computed %s/%s/%s/%s",
			b.Subtotal, b.Tax, b.Shipping, b.Total,
			want.Subtotal, want.Tax, want.Shipping, want.Total)
	}
	return nil
}

// RoundHalfUp rounds non-negative amounts half-up. decimal.Round rounds half
// away from zero, which is the same thing for the amounts priced here.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// MinorUnits converts an amount to integer minor units (paise, cents).
func MinorUnits(d decimal.Decimal) int64 {
	return RoundHalfUp(d, 2).Shift(2).IntPart()
}
