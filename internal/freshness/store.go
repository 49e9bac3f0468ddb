package freshness

import (
	"context"
	"time"
)

// Query narrows List. Zero values mean "any".
type Query struct {
	ItemID        string
	Status        Status
	BatchNumber   string
	DeliveryDate  *time.Time
	ExpiresBefore *time.Time // expiry strictly before
	UnsoldOnly    bool
	SoldFrom      *time.Time // sold_date within [SoldFrom, SoldTo]
	SoldTo        *time.Time
}

type Store interface {
	Create(ctx context.Context, b Batch) error
	Get(ctx context.Context, id string) (Batch, error)
	List(ctx context.Context, q Query) ([]Batch, error)
	// Update applies fn to the locked batch and saves it unless fn fails.
	Update(ctx context.Context, id string, fn func(*Batch) error) (Batch, error)
	// DeleteExpiredBefore removes batches whose expiry date is before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
