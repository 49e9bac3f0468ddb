package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderLine struct {
	ItemID    string          `json:"item_id"`
	ItemType  string          `json:"item_type"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	ExternalID  string          `json:"external_id,omitempty"`
	Items       []OrderLine     `json:"items"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	FloristID   string      `json:"florist_id,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Items       []OrderLine `json:"items,omitempty"`
	ChangedAt   time.Time   `json:"changed_at"`
}

type ItemQty struct {
	ItemID string          `json:"item_id"`
	Qty    decimal.Decimal `json:"qty"`
}

type StockReservedPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}

// StockSettledPayload is carried by StockReleased and StockConsumed.
type StockSettledPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}

type StockRejectedDetail struct {
	ItemID    string          `json:"item_id"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Reason    string          `json:"reason,omitempty"`
}

type StockRejectedPayload struct {
	OrderID string                `json:"order_id"`
	Reason  string                `json:"reason"` // OUT_OF_STOCK
	Details []StockRejectedDetail `json:"details,omitempty"`
}

type FreshnessSweptPayload struct {
	Changed int       `json:"changed"`
	SweptAt time.Time `json:"swept_at"`
}
