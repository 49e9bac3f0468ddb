package stock

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationConsumed ReservationStatus = "CONSUMED"
)

// Line is one item quantity requested for an order.
type Line struct {
	ItemID string          `json:"item_id"`
	Qty    decimal.Decimal `json:"qty"`
}

type Reservation struct {
	OrderID   string            `json:"order_id"`
	ItemID    string            `json:"item_id"`
	Qty       decimal.Decimal   `json:"qty"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Shortfall describes one line that could not be reserved.
type Shortfall struct {
	ItemID    string          `json:"item_id"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Reason    string          `json:"reason"`
}

// ShortfallError is returned when an order reservation is rejected. Nothing was reserved.
type ShortfallError struct {
	OrderID string
	Details []Shortfall
}

func (e *ShortfallError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s (required %s, available %s)", d.ItemID, d.Required, d.Available))
	}
	return fmt.Sprintf("reserve order %s: insufficient stock for %s", e.OrderID, strings.Join(parts, ", "))
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientStock }

// mergeLines sums quantities per item and returns them ordered by item ID, which
// is also the lock order for multi-item operations.
func mergeLines(lines []Line) ([]Line, error) {
	byItem := make(map[string]decimal.Decimal, len(lines))
	for _, l := range lines {
		if l.ItemID == "" {
			return nil, fmt.Errorf("%w: line without item id", ErrInvalidQuantity)
		}
		if !l.Qty.IsPositive() {
			return nil, fmt.Errorf("%w: item %s quantity %s must be positive", ErrInvalidQuantity, l.ItemID, l.Qty)
		}
		byItem[l.ItemID] = byItem[l.ItemID].Add(l.Qty)
	}
	out := make([]Line, 0, len(byItem))
	for id, q := range byItem {
		out = append(out, Line{ItemID: id, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// reserveLine applies one line to an item and converts a ledger failure into a Shortfall.
func reserveLine(it *Item, l Line) (*Shortfall, error) {
	err := it.Reserve(l.Qty)
	if err == nil {
		return nil, nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return &Shortfall{ItemID: it.ID, Required: l.Qty, Available: it.Available(), Reason: le.Err.Error()}, nil
	}
	return nil, err
}

// settleLine releases or consumes one reservation on its item.
func settleLine(it *Item, r Reservation, to ReservationStatus) error {
	switch to {
	case ReservationReleased:
		return it.Release(r.Qty)
	case ReservationConsumed:
		return it.Consume(r.Qty)
	}
	return fmt.Errorf("cannot settle reservation to %s", to)
}
