package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrice_GroceryScenario(t *testing.T) {
	lines := []Line{
		{UnitPrice: dec("2.99"), Quantity: 2},
		{UnitPrice: dec("0.99"), Quantity: 1},
	}

	b, err := Price(lines, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, dec("6.97").Equal(b.Subtotal), "subtotal %s", b.Subtotal)
	assert.True(t, dec("0.35").Equal(b.Tax), "tax %s", b.Tax)
	assert.True(t, dec("7.32").Equal(b.Total), "total %s", b.Total)
}

func TestPrice_Table(t *testing.T) {
	tests := []struct {
		name     string
		lines    []Line
		shipping string
		subtotal string
		tax      string
		total    string
	}{
		{"half rounds up", []Line{{dec("0.10"), 1}}, "0", "0.10", "0.01", "0.11"},
		{"below half rounds down", []Line{{dec("0.09"), 1}}, "0", "0.09", "0.00", "0.09"},
		{"shipping added after tax", []Line{{dec("10.00"), 3}}, "4.99", "30.00", "1.50", "36.49"},
		{"subtotal not rounded", []Line{{dec("0.333"), 3}}, "0", "0.999", "0.05", "1.049"},
		{"empty lines", nil, "2.50", "0", "0", "2.50"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Price(tc.lines, dec(tc.shipping))
			require.NoError(t, err)
			assert.True(t, dec(tc.subtotal).Equal(b.Subtotal), "subtotal %s", b.Subtotal)
			assert.True(t, dec(tc.tax).Equal(b.Tax), "tax %s", b.Tax)
			assert.True(t, dec(tc.total).Equal(b.Total), "total %s", b.Total)
		})
	}
}

func TestPrice_IdentityHolds(t *testing.T) {
	for q := 1; q <= 50; q++ {
		lines := []Line{
			{UnitPrice: dec("1.37"), Quantity: q},
			{UnitPrice: dec("0.45"), Quantity: q + 2},
		}
		shipping := decimal.NewFromInt(int64(q % 7))

		b, err := Price(lines, shipping)
		require.NoError(t, err)

		assert.True(t, b.Total.Equal(b.Subtotal.Add(b.Tax).Add(b.Shipping)))
		assert.True(t, b.Tax.Equal(b.Subtotal.Mul(TaxRate).Round(2)))
		assert.NoError(t, Verify(b, lines, shipping))
	}
}

func TestPrice_Rejects(t *testing.T) {
	_, err := Price([]Line{{dec("1"), 1}}, dec("-1"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = Price([]Line{{dec("1"), 0}}, decimal.Zero)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestVerify_DetectsTamperedTotal(t *testing.T) {
	lines := []Line{{dec("5.00"), 2}}
	b, err := Price(lines, decimal.Zero)
	require.NoError(t, err)

	b.Total = dec("1.00")
	assert.Error(t, Verify(b, lines, decimal.Zero))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(299), MinorUnits(dec("2.99")))
	assert.Equal(t, int64(100), MinorUnits(dec("0.995")))
	assert.Equal(t, int64(0), MinorUnits(decimal.Zero))
}
