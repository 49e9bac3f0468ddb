package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemType says what an order line refers to. Only flowers and materials are
// stock items; bouquets and compositions are priced per order.
type ItemType string

const (
	ItemFlower      ItemType = "FLOWER"
	ItemMaterial    ItemType = "MATERIAL"
	ItemBouquet     ItemType = "BOUQUET"
	ItemComposition ItemType = "COMPOSITION"
)

// IsStock reports whether lines of this type are backed by the stock ledger.
func (t ItemType) IsStock() bool { return t == ItemFlower || t == ItemMaterial }

type Order struct {
	ID                string          `json:"id"`
	OrderNumber       string          `json:"order_number"`
	ExternalID        string          `json:"external_id,omitempty"`
	Status            Status          `json:"status"`
	CustomerName      string          `json:"customer_name"`
	CustomerPhone     string          `json:"customer_phone,omitempty"`
	CustomerEmail     string          `json:"customer_email,omitempty"`
	DeliveryAddress   string          `json:"delivery_address,omitempty"`
	DeliveryDate      *time.Time      `json:"delivery_date,omitempty"`
	Items             []Item          `json:"items"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	FinalAmount       decimal.Decimal `json:"final_amount"`
	Notes             string          `json:"notes,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	PaymentStatus     string          `json:"payment_status,omitempty"`
	AssignedFloristID *string         `json:"assigned_florist_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Item struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	ProductSKU       string          `json:"product_sku,omitempty"`
	ProductType      ItemType        `json:"product_type"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitOfMeasure    string          `json:"unit_of_measure,omitempty"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Notes            string          `json:"notes,omitempty"`
	BouquetComponent bool            `json:"bouquet_component"`
	ParentBouquetID  *string         `json:"parent_bouquet_id,omitempty"`
}

// clone deep-copies the order so a failed mutation can never leak into the stored value.
func (o Order) clone() Order {
	c := o
	c.Items = make([]Item, len(o.Items))
	for i, it := range o.Items {
		if it.ParentBouquetID != nil {
			p := *it.ParentBouquetID
			it.ParentBouquetID = &p
		}
		c.Items[i] = it
	}
	if o.DeliveryDate != nil {
		d := *o.DeliveryDate
		c.DeliveryDate = &d
	}
	if o.AssignedFloristID != nil {
		f := *o.AssignedFloristID
		c.AssignedFloristID = &f
	}
	return c
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Statuses       []Status
	CustomerPhone  string
	CustomerEmail  string
	FloristID      string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	DeliveryDay    *time.Time // calendar day in UTC
	DeliveryBefore *time.Time
	Search         string // customer name or order number, case-insensitive
	Limit          int
}

type Stats struct {
	TotalOrders         int             `json:"total_orders"`
	TodaysOrders        int             `json:"todays_orders"`
	RequiringProcessing int             `json:"requiring_processing"`
	InProgress          int             `json:"in_progress"`
	ReadyForDelivery    int             `json:"ready_for_delivery"`
	Delivered           int             `json:"delivered"`
	Cancelled           int             `json:"cancelled"`
	Overdue             int             `json:"overdue"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	TodaysRevenue       decimal.Decimal `json:"todays_revenue"`
	AverageOrderValue   decimal.Decimal `json:"average_order_value"`
	ByStatus            map[string]int  `json:"by_status"`
	ConversionRate      float64         `json:"conversion_rate"`
}
