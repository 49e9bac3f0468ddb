package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemTotal is quantity × unit price − item discount, in cents precision.
// A negative result is a data error and is never floored to zero.
func ItemTotal(it Item) (decimal.Decimal, error) {
	total := it.Quantity.Mul(it.UnitPrice).Sub(it.DiscountAmount).Round(2)
	if total.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: item %s total %s", ErrNegativeAmount, it.ProductID, total)
	}
	return total, nil
}

// Recalculate recomputes every item total and the order amounts. On error o is
// left as it was.
func Recalculate(o *Order) error {
	if o.DiscountAmount.IsNegative() {
		return fmt.Errorf("%w: order discount %s", ErrNegativeAmount, o.DiscountAmount)
	}
	totals := make([]decimal.Decimal, len(o.Items))
	sum := decimal.Zero
	for i, it := range o.Items {
		t, err := ItemTotal(it)
		if err != nil {
			return err
		}
		totals[i] = t
		sum = sum.Add(t)
	}
	final := sum.Sub(o.DiscountAmount).Round(2)
	if final.IsNegative() {
		return fmt.Errorf("%w: discount %s exceeds total %s", ErrNegativeAmount, o.DiscountAmount, sum)
	}
	for i := range o.Items {
		o.Items[i].TotalPrice = totals[i]
	}
	o.TotalAmount = sum
	o.FinalAmount = final
	return nil
}
