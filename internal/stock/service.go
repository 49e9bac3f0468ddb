package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/lavanda-orders/internal/stock")

// ValidationError marks a malformed request, as opposed to a ledger rejection.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Service struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time

	ops metric.Int64Counter
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ops, _ := otel.Meter("github.com/ariefcatur/lavanda-orders/internal/stock").
		Int64Counter("stock.ledger.operations", metric.WithDescription("ledger operations by op and outcome"))
	return &Service{Store: store, Logger: logger.With("component", "stock"), Now: time.Now, ops: ops}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) record(ctx context.Context, op string, err error) {
	if s.ops == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome)))
}

type NewItem struct {
	SKU           string           `json:"sku"`
	Name          string           `json:"name"`
	Kind          Kind             `json:"kind"`
	Category      string           `json:"category"`
	Variety       string           `json:"variety"`
	Color         string           `json:"color"`
	Supplier      string           `json:"supplier"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	PurchasePrice decimal.Decimal  `json:"purchase_price"`
	Quantity      decimal.Decimal  `json:"quantity"`
	MinLevel      *decimal.Decimal `json:"min_level"`
	FreshnessDays int              `json:"freshness_days"`
	DeliveryDate  *time.Time       `json:"delivery_date"`
	Notes         string           `json:"notes"`
}

func (s *Service) CreateItem(ctx context.Context, in NewItem) (Item, error) {
	ctx, span := tracer.Start(ctx, "stock.CreateItem")
	var err error
	defer func() { telemetry.End(span, err) }()

	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.SKU) == "" {
		err = invalid("name and sku are required")
		return Item{}, err
	}
	unit, ok := UnitFor(in.Kind)
	if !ok {
		err = invalid("unknown item kind %q", in.Kind)
		return Item{}, err
	}
	if in.UnitPrice.IsNegative() || in.PurchasePrice.IsNegative() {
		err = invalid("prices must not be negative")
		return Item{}, err
	}
	if in.FreshnessDays < 0 {
		err = invalid("freshness days must not be negative")
		return Item{}, err
	}
	var qty decimal.Decimal
	if qty, err = Normalize(unit, in.Quantity); err != nil {
		return Item{}, err
	}
	if qty.IsNegative() {
		err = invalid("initial quantity must not be negative")
		return Item{}, err
	}
	if in.MinLevel != nil {
		var ml decimal.Decimal
		if ml, err = Normalize(unit, *in.MinLevel); err != nil {
			return Item{}, err
		}
		in.MinLevel = &ml
	}

	now := s.now().UTC()
	it := Item{
		ID:            uuid.NewString(),
		SKU:           strings.TrimSpace(in.SKU),
		Name:          strings.TrimSpace(in.Name),
		Kind:          in.Kind,
		Unit:          unit,
		Category:      in.Category,
		Variety:       in.Variety,
		Color:         in.Color,
		Supplier:      in.Supplier,
		UnitPrice:     in.UnitPrice.Round(2),
		PurchasePrice: in.PurchasePrice.Round(2),
		Current:       qty,
		Reserved:      decimal.Zero,
		MinLevel:      in.MinLevel,
		Active:        true,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Kind == KindFlower {
		it.FreshnessDays = in.FreshnessDays
		if in.DeliveryDate != nil {
			d := civil(*in.DeliveryDate)
			it.DeliveryDate = &d
			if in.FreshnessDays > 0 {
				e := d.AddDate(0, 0, in.FreshnessDays)
				it.ExpiryDate = &e
			}
		}
	}

	if err = s.Store.Create(ctx, it); err != nil {
		return Item{}, err
	}
	s.Logger.Info("stock item created", "item_id", it.ID, "sku", it.SKU, "kind", it.Kind, "current", it.Current)
	return it, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (Item, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, f Filter) ([]Item, error) {
	return s.Store.List(ctx, f)
}

func (s *Service) Deactivate(ctx context.Context, id string) (Item, error) {
	it, err := s.Store.Update(ctx, id, func(it *Item) error {
		it.Active = false
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.Logger.Info("stock item deactivated", "item_id", id)
	return it, nil
}

func (s *Service) ItemsNeedingRestock(ctx context.Context) ([]Item, error) {
	all, err := s.Store.List(ctx, Filter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, it := range all {
		if it.NeedsRestock() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Service) mutate(ctx context.Context, op, id string, q decimal.Decimal, fn func(*Item) error) (Item, error) {
	ctx, span := tracer.Start(ctx, "stock."+op, trace.WithAttributes(
		attribute.String("item_id", id), attribute.String("qty", q.String())))
	it, err := s.Store.Update(ctx, id, fn)
	telemetry.End(span, err)
	s.record(ctx, op, err)
	if err != nil {
		s.Logger.Warn("ledger operation rejected", "op", op, "item_id", id, "qty", q, "err", err)
		return it, err
	}
	s.Logger.Info("ledger operation applied", "op", op, "item_id", id, "qty", q,
		"current", it.Current, "reserved", it.Reserved, "available", it.Available())
	return it, nil
}

// Reserve holds quantity of one item. It never clamps: a request above the
// available stock fails with ErrInsufficientStock and changes nothing.
func (s *Service) Reserve(ctx context.Context, id string, q decimal.Decimal) (Item, error) {
	return s.mutate(ctx, "reserve", id, q, func(it *Item) error {
		if !it.Active {
			return it.fail("reserve", q, ErrInactive)
		}
		return it.Reserve(q)
	})
}

func (s *Service) Release(ctx context.Context, id string, q decimal.Decimal) (Item, error) {
	return s.mutate(ctx, "release", id, q, func(it *Item) error { return it.Release(q) })
}

// Adjust receives (positive delta) or writes off (negative delta) stock.
func (s *Service) Adjust(ctx context.Context, id string, delta decimal.Decimal, reason string) (Item, error) {
	today := s.now()
	it, err := s.mutate(ctx, "adjust", id, delta, func(it *Item) error { return it.Adjust(delta, today) })
	if err == nil && reason != "" {
		s.Logger.Info("stock adjusted", "item_id", id, "delta", delta, "reason", reason)
	}
	return it, err
}

// CheckAvailability reports whether q can be reserved right now. Flowers past
// their expiry date are never available.
func (s *Service) CheckAvailability(ctx context.Context, id string, q decimal.Decimal) (bool, error) {
	it, err := s.Store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return it.Active && it.Available().GreaterThanOrEqual(q) && it.IsFresh(s.now()), nil
}

func (s *Service) ReserveForOrder(ctx context.Context, orderID string, lines []Line) ([]Reservation, error) {
	ctx, span := tracer.Start(ctx, "stock.ReserveForOrder", trace.WithAttributes(attribute.String("order_id", orderID)))
	res, err := s.Store.Reserve(ctx, orderID, lines)
	telemetry.End(span, err)
	s.record(ctx, "reserve_order", err)
	if err != nil {
		s.Logger.Warn("order reservation rejected", "order_id", orderID, "err", err)
		return nil, err
	}
	s.Logger.Info("order reserved", "order_id", orderID, "lines", len(res))
	return res, nil
}

func (s *Service) ReleaseForOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	return s.settle(ctx, orderID, ReservationReleased)
}

// ConsumeForOrder turns the order's reservations into physical deductions.
func (s *Service) ConsumeForOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	return s.settle(ctx, orderID, ReservationConsumed)
}

func (s *Service) settle(ctx context.Context, orderID string, to ReservationStatus) ([]Reservation, error) {
	op := strings.ToLower(string(to))
	ctx, span := tracer.Start(ctx, "stock.Settle", trace.WithAttributes(
		attribute.String("order_id", orderID), attribute.String("to", string(to))))
	res, err := s.Store.Settle(ctx, orderID, to)
	telemetry.End(span, err)
	s.record(ctx, op+"_order", err)
	if err != nil {
		s.Logger.Error("settle reservation failed", "order_id", orderID, "to", to, "err", err)
		return nil, err
	}
	s.Logger.Info("order reservation settled", "order_id", orderID, "to", to, "lines", len(res))
	return res, nil
}

func (s *Service) Reservations(ctx context.Context, orderID string) ([]Reservation, error) {
	return s.Store.Reservations(ctx, orderID)
}

func (s *Service) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	it, err := s.Store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return it.Snapshot(), nil
}

type Stats struct {
	ByKind          []KindStats     `json:"by_kind"`
	TotalStockValue decimal.Decimal `json:"total_stock_value"`
}

func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	all, err := s.Store.List(ctx, Filter{ActiveOnly: true})
	if err != nil {
		return Stats{}, err
	}
	agg := map[Kind]*KindStats{}
	var total decimal.Decimal
	for _, it := range all {
		ks, ok := agg[it.Kind]
		if !ok {
			ks = &KindStats{Kind: it.Kind, Label: KindLabel(it.Kind)}
			agg[it.Kind] = ks
		}
		ks.Items++
		ks.Current = ks.Current.Add(it.Current)
		ks.Reserved = ks.Reserved.Add(it.Reserved)
		ks.StockValue = ks.StockValue.Add(it.StockValue())
		if it.NeedsRestock() {
			ks.Restock++
		}
		total = total.Add(it.StockValue())
	}
	out := Stats{TotalStockValue: total}
	for _, ks := range agg {
		out.ByKind = append(out.ByKind, *ks)
	}
	sort.Slice(out.ByKind, func(i, j int) bool { return out.ByKind[i].Kind < out.ByKind[j].Kind })
	return out, nil
}

// IsRejection reports whether err is a ledger precondition failure (as opposed to
// a storage or validation failure).
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrOverRelease) || errors.Is(err, ErrNegativeStock)
}
