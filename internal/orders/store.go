package orders

import "context"

// Store persists orders. Update and Delete hold the order's exclusive lock while
// fn runs; when fn fails nothing is written.
type Store interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	GetByExternalID(ctx context.Context, externalID string) (Order, error)
	NumberExists(ctx context.Context, number string) (bool, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	Update(ctx context.Context, id string, fn func(*Order) error) (Order, error)
	Delete(ctx context.Context, id string, check func(Order) error) error
}
