package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MeterScale is the number of fractional digits kept for length quantities.
const MeterScale = 3

var (
	ErrNotFound          = errors.New("stock item not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverRelease       = errors.New("release exceeds reserved quantity")
	ErrNegativeStock     = errors.New("stock would become negative")
	ErrInactive          = errors.New("stock item is inactive")
	ErrOrderSettled      = errors.New("order reservations already settled")
)

// LedgerError reports which item rejected an operation and the quantities it saw.
type LedgerError struct {
	Op        string
	ItemID    string
	Requested decimal.Decimal
	Current   decimal.Decimal
	Reserved  decimal.Decimal
	Err       error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s %s on item %s: %v (current=%s reserved=%s available=%s)",
		e.Op, e.Requested, e.ItemID, e.Err, e.Current, e.Reserved, e.Current.Sub(e.Reserved))
}

func (e *LedgerError) Unwrap() error { return e.Err }

func (it *Item) fail(op string, q decimal.Decimal, err error) error {
	return &LedgerError{Op: op, ItemID: it.ID, Requested: q, Current: it.Current, Reserved: it.Reserved, Err: err}
}

// Normalize checks that q is representable in the unit: whole pieces, or meters
// with at most MeterScale fractional digits.
func Normalize(u Unit, q decimal.Decimal) (decimal.Decimal, error) {
	switch u {
	case UnitPiece:
		if !q.IsInteger() {
			return decimal.Zero, fmt.Errorf("%w: %s is not a whole number of pieces", ErrInvalidQuantity, q)
		}
		return q.Truncate(0), nil
	case UnitMeter:
		if !q.Equal(q.Truncate(MeterScale)) {
			return decimal.Zero, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidQuantity, q, MeterScale)
		}
		return q.Truncate(MeterScale), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown unit %q", ErrInvalidQuantity, u)
}

func (it *Item) positive(q decimal.Decimal) (decimal.Decimal, error) {
	q, err := Normalize(it.Unit, q)
	if err != nil {
		return q, err
	}
	if !q.IsPositive() {
		return q, fmt.Errorf("%w: %s must be positive", ErrInvalidQuantity, q)
	}
	return q, nil
}

// Reserve holds q against the available stock.
func (it *Item) Reserve(q decimal.Decimal) error {
	q, err := it.positive(q)
	if err != nil {
		return err
	}
	if it.Available().LessThan(q) {
		return it.fail("reserve", q, ErrInsufficientStock)
	}
	it.Reserved = it.Reserved.Add(q)
	return nil
}

// Release gives back q of a previous reservation.
func (it *Item) Release(q decimal.Decimal) error {
	q, err := it.positive(q)
	if err != nil {
		return err
	}
	if it.Reserved.LessThan(q) {
		return it.fail("release", q, ErrOverRelease)
	}
	it.Reserved = it.Reserved.Sub(q)
	return nil
}

// Consume turns q of the reservation into a physical deduction: reserved and
// current both drop by q.
func (it *Item) Consume(q decimal.Decimal) error {
	q, err := it.positive(q)
	if err != nil {
		return err
	}
	if it.Reserved.LessThan(q) {
		return it.fail("consume", q, ErrOverRelease)
	}
	it.Reserved = it.Reserved.Sub(q)
	it.Current = it.Current.Sub(q)
	return nil
}

// Adjust receives (delta > 0) or writes off (delta < 0) stock. Current may never
// drop below zero nor below what is already reserved. Receiving flowers restarts
// their freshness window from today.
func (it *Item) Adjust(delta decimal.Decimal, today time.Time) error {
	delta, err := Normalize(it.Unit, delta)
	if err != nil {
		return err
	}
	if delta.IsZero() {
		return fmt.Errorf("%w: adjustment must not be zero", ErrInvalidQuantity)
	}
	next := it.Current.Add(delta)
	if next.IsNegative() {
		return it.fail("adjust", delta, ErrNegativeStock)
	}
	if next.LessThan(it.Reserved) {
		return it.fail("adjust", delta, fmt.Errorf("%w: would fall below reserved %s", ErrNegativeStock, it.Reserved))
	}
	it.Current = next

	if delta.IsPositive() && it.Kind == KindFlower {
		d := civil(today)
		it.DeliveryDate = &d
		if it.FreshnessDays > 0 {
			e := d.AddDate(0, 0, it.FreshnessDays)
			it.ExpiryDate = &e
		}
	}
	return nil
}

// checkInvariant is the ledger invariant 0 <= reserved <= current.
func (it Item) checkInvariant() error {
	if it.Reserved.IsNegative() || it.Reserved.GreaterThan(it.Current) {
		return fmt.Errorf("item %s violates ledger invariant: current=%s reserved=%s", it.ID, it.Current, it.Reserved)
	}
	return nil
}
