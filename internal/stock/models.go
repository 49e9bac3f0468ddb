package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit is how an item is counted: flowers by the piece, materials by the meter.
type Unit string

const (
	UnitPiece Unit = "PIECE"
	UnitMeter Unit = "METER"
)

type Kind string

const (
	KindFlower   Kind = "FLOWER"
	KindMaterial Kind = "MATERIAL"
)

var kindLabels = map[Kind]string{
	KindFlower:   "Flower",
	KindMaterial: "Material",
}

var unitLabels = map[Unit]string{
	UnitPiece: "pcs",
	UnitMeter: "m",
}

func KindLabel(k Kind) string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

func UnitLabel(u Unit) string {
	if l, ok := unitLabels[u]; ok {
		return l
	}
	return string(u)
}

// UnitFor returns the counting unit used for a kind.
func UnitFor(k Kind) (Unit, bool) {
	switch k {
	case KindFlower:
		return UnitPiece, true
	case KindMaterial:
		return UnitMeter, true
	}
	return "", false
}

type Item struct {
	ID       string `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Unit     Unit   `json:"unit"`
	Category string `json:"category,omitempty"` // flower type (ROSE, TULIP) or material type (RIBBON, WIRE)
	Variety  string `json:"variety,omitempty"`
	Color    string `json:"color,omitempty"`
	Supplier string `json:"supplier,omitempty"`

	UnitPrice     decimal.Decimal `json:"unit_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`

	Current  decimal.Decimal  `json:"current"`
	Reserved decimal.Decimal  `json:"reserved"`
	MinLevel *decimal.Decimal `json:"min_level,omitempty"`

	FreshnessDays int        `json:"freshness_days,omitempty"`
	DeliveryDate  *time.Time `json:"delivery_date,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`

	Active    bool      `json:"active"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is the sellable part of the stock. It is always derived, never stored.
func (it Item) Available() decimal.Decimal {
	return it.Current.Sub(it.Reserved)
}

func (it Item) NeedsRestock() bool {
	return it.MinLevel != nil && it.Available().LessThanOrEqual(*it.MinLevel)
}

// IsFresh reports whether a perishable item is still sellable on the given day.
// Items without an expiry date are always fresh.
func (it Item) IsFresh(today time.Time) bool {
	if it.ExpiryDate == nil {
		return true
	}
	return civil(*it.ExpiryDate).After(civil(today))
}

// StockValue is current quantity at purchase price.
func (it Item) StockValue() decimal.Decimal {
	return it.Current.Mul(it.PurchasePrice).Round(2)
}

// Snapshot is the point-in-time view of an item that orders copy at creation.
type Snapshot struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"kind"`
	Unit      Unit            `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Active    bool            `json:"active"`
}

func (it Item) Snapshot() Snapshot {
	return Snapshot{
		ID:        it.ID,
		SKU:       it.SKU,
		Name:      it.Name,
		Kind:      it.Kind,
		Unit:      it.Unit,
		UnitPrice: it.UnitPrice,
		Active:    it.Active,
	}
}

type Filter struct {
	Kind       Kind
	ActiveOnly bool
	Search     string // case-insensitive match on name, variety or SKU
}

type KindStats struct {
	Kind       Kind            `json:"kind"`
	Label      string          `json:"label"`
	Items      int             `json:"items"`
	Current    decimal.Decimal `json:"current"`
	Reserved   decimal.Decimal `json:"reserved"`
	StockValue decimal.Decimal `json:"stock_value"`
	Restock    int             `json:"needing_restock"`
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
