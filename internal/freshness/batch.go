package freshness

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("freshness batch not found")
	ErrInvalidDiscount = errors.New("discount percentage must be between 0 and 100")
	ErrInvalidBatch    = errors.New("invalid freshness batch")
)

// DefaultStorage is recorded for batches created from a stock delivery.
const DefaultStorage = "fridge +2°C, humidity 85%"

type Batch struct {
	ID                string     `json:"id"`
	ItemID            string     `json:"item_id"`
	BatchNumber       string     `json:"batch_number,omitempty"`
	Quantity          int        `json:"quantity"`
	DeliveryDate      time.Time  `json:"delivery_date"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	DaysUntilExpiry   *int       `json:"days_until_expiry,omitempty"`
	Status            Status     `json:"status"`
	StatusLabel       string     `json:"status_label"`
	Discount          *int       `json:"discount_percentage,omitempty"`
	DiscountExplicit  bool       `json:"discount_explicit"`
	StorageConditions string     `json:"storage_conditions,omitempty"`
	TemperatureC      *int       `json:"temperature_c,omitempty"`
	HumidityPct       *int       `json:"humidity_pct,omitempty"`
	Sold              bool       `json:"sold"`
	SoldDate          *time.Time `json:"sold_date,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Recompute refreshes the derived fields of an unsold batch and reports whether
// its status changed. A discount set by an operator is never replaced; otherwise
// the batch carries the recommendation for its current status.
func Recompute(b *Batch, today time.Time) bool {
	if b.Sold {
		return false
	}
	prev := b.Status
	b.Status = Classify(b.ExpiryDate, today)
	b.StatusLabel = Label(b.Status)
	if b.ExpiryDate != nil {
		n := DaysUntil(*b.ExpiryDate, today)
		b.DaysUntilExpiry = &n
	} else {
		b.DaysUntilExpiry = nil
	}
	if !b.DiscountExplicit {
		b.Discount = nil
		if rec := RecommendedDiscount(b.Status); rec > 0 {
			b.Discount = &rec
		}
	}
	return prev != b.Status
}

// EffectiveDiscount is the discount a sale of this batch gets, 0 when none is set.
func (b Batch) EffectiveDiscount() int {
	if b.Discount == nil {
		return 0
	}
	return *b.Discount
}
