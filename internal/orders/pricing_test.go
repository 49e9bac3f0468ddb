package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecalculate(t *testing.T) {
	o := Order{
		Items: []Item{
			{ProductID: "a", Quantity: dec("3"), UnitPrice: dec("100.00")},
			{ProductID: "b", Quantity: dec("2"), UnitPrice: dec("50.00")},
		},
		DiscountAmount: dec("10.00"),
	}
	require.NoError(t, Recalculate(&o))
	assert.Equal(t, "400", o.TotalAmount.String())
	assert.Equal(t, "390", o.FinalAmount.String())
	assert.Equal(t, "300", o.Items[0].TotalPrice.String())
}

func TestItemTotalRounding(t *testing.T) {
	got, err := ItemTotal(Item{Quantity: dec("1.255"), UnitPrice: dec("3.30"), DiscountAmount: dec("0.10")})
	require.NoError(t, err)
	assert.Equal(t, "4.04", got.String())
}

func TestRecalculateRejectsNegative(t *testing.T) {
	o := Order{Items: []Item{{ProductID: "a", Quantity: dec("1"), UnitPrice: dec("5"), DiscountAmount: dec("6")}}}
	require.ErrorIs(t, Recalculate(&o), ErrNegativeAmount)
	assert.True(t, o.TotalAmount.IsZero(), "order untouched on error")

	o = Order{Items: []Item{{ProductID: "a", Quantity: dec("1"), UnitPrice: dec("5")}}, DiscountAmount: dec("5.01")}
	require.ErrorIs(t, Recalculate(&o), ErrNegativeAmount)
	assert.True(t, o.Items[0].TotalPrice.IsZero())
}
