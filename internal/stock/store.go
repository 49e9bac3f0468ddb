package stock

import (
	"context"
	"errors"
)

var ErrDuplicateSKU = errors.New("stock item sku already exists")

// Store persists items and order reservations. Every method that changes an item
// holds that item's exclusive lock for the whole read-modify-write, so the
// ledger invariant holds between any two operations on the same item.
type Store interface {
	Create(ctx context.Context, it Item) error
	Get(ctx context.Context, id string) (Item, error)
	List(ctx context.Context, f Filter) ([]Item, error)

	// Update loads the item, calls fn on a copy and saves the copy only if fn
	// returns nil.
	Update(ctx context.Context, id string, fn func(*Item) error) (Item, error)

	// Reserve applies all lines for orderID or none of them. It returns a
	// *ShortfallError listing every line that did not fit. If the order already
	// holds reservations they are returned unchanged. An order that was settled
	// before it reserved anything is refused with ErrOrderSettled.
	Reserve(ctx context.Context, orderID string, lines []Line) ([]Reservation, error)

	// Settle moves every RESERVED row of the order to `to` (RELEASED or CONSUMED),
	// adjusting the items in the same unit of work. Settling an order with no
	// reservations leaves a marker so a late Reserve for it is refused.
	Settle(ctx context.Context, orderID string, to ReservationStatus) ([]Reservation, error)

	Reservations(ctx context.Context, orderID string) ([]Reservation, error)
}
