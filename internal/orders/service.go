package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/events"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/ariefcatur/lavanda-orders/internal/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/lavanda-orders/internal/orders")

// Catalog resolves stock products for new order lines.
type Catalog interface {
	Lookup(ctx context.Context, productID string) (stock.Snapshot, error)
}

type Service struct {
	Store       Store
	Catalog     Catalog
	Producer    events.Publisher // optional
	Cache       *Cache           // optional
	ServiceName string
	Logger      *slog.Logger
	Now         func() time.Time
	Numbers     func(time.Time) string
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("component", "orders")
	}
	return s.Logger
}

type ItemInput struct {
	ProductID        string           `json:"product_id"`
	ProductType      ItemType         `json:"product_type"`
	Name             string           `json:"name"`       // bouquets and compositions only
	UnitPrice        *decimal.Decimal `json:"unit_price"` // bouquets and compositions only
	Quantity         decimal.Decimal  `json:"quantity"`
	DiscountAmount   decimal.Decimal  `json:"discount_amount"`
	Notes            string           `json:"notes"`
	BouquetComponent bool             `json:"bouquet_component"`
	ParentBouquetID  *string          `json:"parent_bouquet_id"`
}

type CreateInput struct {
	ExternalID      string          `json:"external_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone"`
	CustomerEmail   string          `json:"customer_email"`
	DeliveryAddress string          `json:"delivery_address"`
	DeliveryDate    *time.Time      `json:"delivery_date"`
	Items           []ItemInput     `json:"items"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Notes           string          `json:"notes"`
	PaymentMethod   string          `json:"payment_method"`
}

// buildItems resolves each line. Stock lines copy name, SKU, unit and price from
// the catalog at this moment; later price changes never touch the order.
func (s *Service) buildItems(ctx context.Context, in []ItemInput) ([]Item, error) {
	if len(in) == 0 {
		return nil, ErrEmptyOrder
	}
	items := make([]Item, 0, len(in))
	bouquets := map[string]bool{}
	for i, li := range in {
		if li.DiscountAmount.IsNegative() {
			return nil, fmt.Errorf("%w: line %d discount", ErrNegativeAmount, i+1)
		}
		it := Item{
			ID:               uuid.NewString(),
			ProductID:        strings.TrimSpace(li.ProductID),
			DiscountAmount:   li.DiscountAmount.Round(2),
			Notes:            li.Notes,
			BouquetComponent: li.BouquetComponent,
			ParentBouquetID:  li.ParentBouquetID,
		}
		if it.ProductID == "" {
			return nil, invalid("line %d: product id is required", i+1)
		}
		switch li.ProductType {
		case ItemBouquet, ItemComposition:
			if strings.TrimSpace(li.Name) == "" || li.UnitPrice == nil || li.UnitPrice.IsNegative() {
				return nil, invalid("line %d: %s needs a name and a non-negative unit price", i+1, li.ProductType)
			}
			q, err := stock.Normalize(stock.UnitPiece, li.Quantity)
			if err != nil || !q.IsPositive() {
				return nil, invalid("line %d: quantity must be a positive whole number", i+1)
			}
			it.ProductType = li.ProductType
			it.ProductName = strings.TrimSpace(li.Name)
			it.UnitPrice = li.UnitPrice.Round(2)
			it.Quantity = q
			it.UnitOfMeasure = stock.UnitLabel(stock.UnitPiece)
			bouquets[it.ProductID] = true
		case "", ItemFlower, ItemMaterial:
			if s.Catalog == nil {
				return nil, errors.New("no catalog configured")
			}
			snap, err := s.Catalog.Lookup(ctx, it.ProductID)
			if errors.Is(err, stock.ErrNotFound) {
				return nil, invalid("line %d: product %s not found", i+1, it.ProductID)
			}
			if err != nil {
				return nil, err
			}
			if !snap.Active {
				return nil, invalid("line %d: product %s is inactive", i+1, it.ProductID)
			}
			if li.ProductType != "" && string(li.ProductType) != string(snap.Kind) {
				return nil, invalid("line %d: product %s is a %s", i+1, it.ProductID, snap.Kind)
			}
			q, err := stock.Normalize(snap.Unit, li.Quantity)
			if err != nil || !q.IsPositive() {
				return nil, invalid("line %d: invalid quantity %s for unit %s", i+1, li.Quantity, snap.Unit)
			}
			it.ProductType = ItemType(snap.Kind)
			it.ProductName = snap.Name
			it.ProductSKU = snap.SKU
			it.UnitPrice = snap.UnitPrice
			it.Quantity = q
			it.UnitOfMeasure = stock.UnitLabel(snap.Unit)
		default:
			return nil, invalid("line %d: unknown product type %q", i+1, li.ProductType)
		}
		items = append(items, it)
	}
	for i, it := range items {
		if !it.BouquetComponent {
			continue
		}
		if it.ParentBouquetID == nil || !bouquets[*it.ParentBouquetID] {
			return nil, invalid("line %d: bouquet component must reference a bouquet line of this order", i+1)
		}
	}
	return items, nil
}

// Create places a new order in status NEW. A repeated ExternalID returns the
// order created the first time and existed=true.
func (s *Service) Create(ctx context.Context, in CreateInput) (o Order, existed bool, err error) {
	ctx, span := tracer.Start(ctx, "orders.Create")
	defer func() { telemetry.End(span, err) }()

	if in.ExternalID != "" {
		if prev, ok := s.existing(ctx, in.ExternalID); ok {
			return prev, true, nil
		}
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return Order{}, false, invalid("customer name is required")
	}
	if in.DiscountAmount.IsNegative() {
		return Order{}, false, fmt.Errorf("%w: order discount", ErrNegativeAmount)
	}
	items, err := s.buildItems(ctx, in.Items)
	if err != nil {
		return Order{}, false, err
	}

	now := s.now()
	o = Order{
		ID:              uuid.NewString(),
		ExternalID:      in.ExternalID,
		Status:          StatusNew,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		DeliveryAddress: in.DeliveryAddress,
		DeliveryDate:    in.DeliveryDate,
		Items:           items,
		DiscountAmount:  in.DiscountAmount.Round(2),
		Notes:           in.Notes,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   "PENDING",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = Recalculate(&o); err != nil {
		return Order{}, false, err
	}
	if err = s.insert(ctx, &o); err != nil {
		if errors.Is(err, ErrDuplicateExternalID) {
			if prev, ok := s.existing(ctx, in.ExternalID); ok {
				return prev, true, nil
			}
		}
		return Order{}, false, err
	}
	span.SetAttributes(attribute.String("order_id", o.ID), attribute.String("order_number", o.OrderNumber))
	s.log().Info("order created", "order_id", o.ID, "order_number", o.OrderNumber,
		"items", len(o.Items), "final_amount", o.FinalAmount)

	if s.Cache != nil {
		if in.ExternalID != "" {
			if err := s.Cache.RememberExternal(ctx, in.ExternalID, o.ID); err != nil {
				s.log().Warn("cache idempotency key", "order_id", o.ID, "err", err)
			}
		}
		s.cacheStatus(ctx, o)
	}
	s.emit(ctx, events.TopicOrderCreated, o.ID, events.EventOrderCreated, events.OrderCreatedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		ExternalID:  o.ExternalID,
		Items:       lines(o),
		FinalAmount: o.FinalAmount,
	})
	return o, false, nil
}

func (s *Service) existing(ctx context.Context, externalID string) (Order, bool) {
	if s.Cache != nil {
		if id, err := s.Cache.LookupExternal(ctx, externalID); err == nil && id != "" {
			if o, err := s.Store.Get(ctx, id); err == nil {
				return o, true
			}
		}
	}
	o, err := s.Store.GetByExternalID(ctx, externalID)
	return o, err == nil
}

// insert assigns an order number, retrying on collision.
func (s *Service) insert(ctx context.Context, o *Order) error {
	gen := s.Numbers
	if gen == nil {
		gen = RandomNumber
	}
	for attempt := 0; attempt < numberAttempts; attempt++ {
		n := gen(o.CreatedAt)
		taken, err := s.Store.NumberExists(ctx, n)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		o.OrderNumber = n
		err = s.Store.Create(ctx, *o)
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		return err
	}
	return fmt.Errorf("no free order number after %d attempts", numberAttempts)
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (Order, error) {
	return s.Store.GetByNumber(ctx, number)
}

// GetStatus reads through the Redis status cache.
func (s *Service) GetStatus(ctx context.Context, id string) (Status, error) {
	if s.Cache != nil {
		if st, ok, err := s.Cache.Status(ctx, id); err == nil && ok {
			return st, nil
		}
	}
	o, err := s.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, o)
	return o.Status, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	return s.Store.List(ctx, f)
}

// mutate runs fn under the order lock and stamps UpdatedAt on success.
func (s *Service) mutate(ctx context.Context, op, id string, fn func(*Order) error) (before, after Order, err error) {
	ctx, span := tracer.Start(ctx, "orders."+op, trace.WithAttributes(attribute.String("order_id", id)))
	defer func() { telemetry.End(span, err) }()
	now := s.now()
	after, err = s.Store.Update(ctx, id, func(o *Order) error {
		before = o.clone()
		if err := fn(o); err != nil {
			return err
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.log().Warn("order update rejected", "op", op, "order_id", id, "err", err)
		return Order{}, Order{}, err
	}
	return before, after, nil
}

// Transition moves the order along the status table.
func (s *Service) Transition(ctx context.Context, id string, to Status) (Order, error) {
	before, o, err := s.mutate(ctx, "Transition", id, func(o *Order) error {
		if !CanTransition(o.Status, to) {
			return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
		}
		o.Status = to
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.statusChanged(ctx, before, o, "")
	return o, nil
}

// AssignFlorist sets the florist and, for NEW or CONFIRMED orders, moves the
// order to IN_PROGRESS in the same write.
func (s *Service) AssignFlorist(ctx context.Context, id, floristID string) (Order, error) {
	floristID = strings.TrimSpace(floristID)
	if floristID == "" {
		return Order{}, invalid("florist id is required")
	}
	before, o, err := s.mutate(ctx, "AssignFlorist", id, func(o *Order) error {
		o.AssignedFloristID = &floristID
		if o.Status == StatusNew || o.Status == StatusConfirmed {
			o.Status = StatusInProgress
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.log().Info("florist assigned", "order_id", id, "florist_id", floristID, "status", o.Status)
	if before.Status != o.Status {
		s.statusChanged(ctx, before, o, "")
	}
	return o, nil
}

// Cancel is allowed from every status except DELIVERED. A non-empty reason is
// appended to the notes.
func (s *Service) Cancel(ctx context.Context, id, reason string) (Order, error) {
	reason = strings.TrimSpace(reason)
	before, o, err := s.mutate(ctx, "Cancel", id, func(o *Order) error {
		if o.Status == StatusDelivered {
			return &OperationNotAllowedError{OrderID: o.ID, Status: o.Status, Reason: "a delivered order cannot be cancelled"}
		}
		o.Status = StatusCancelled
		if reason != "" {
			o.Notes = appendNote(o.Notes, "Cancellation reason: "+reason)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.statusChanged(ctx, before, o, reason)
	return o, nil
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

// Delete removes an order that is NEW or CANCELLED.
func (s *Service) Delete(ctx context.Context, id string) error {
	var deleted Order
	err := s.Store.Delete(ctx, id, func(o Order) error {
		if o.Status != StatusNew && o.Status != StatusCancelled {
			return &OperationNotAllowedError{OrderID: o.ID, Status: o.Status, Reason: "only new or cancelled orders can be deleted"}
		}
		deleted = o
		return nil
	})
	if err != nil {
		return err
	}
	if s.Cache != nil {
		if err := s.Cache.Forget(ctx, deleted); err != nil {
			s.log().Warn("cache forget", "order_id", id, "err", err)
		}
	}
	s.log().Info("order deleted", "order_id", id, "order_number", deleted.OrderNumber)
	return nil
}

// UpdateItems replaces the item list of a NEW order and reprices it.
func (s *Service) UpdateItems(ctx context.Context, id string, in []ItemInput) (Order, error) {
	items, err := s.buildItems(ctx, in)
	if err != nil {
		return Order{}, err
	}
	_, o, err := s.mutate(ctx, "UpdateItems", id, func(o *Order) error {
		if o.Status != StatusNew {
			return &OperationNotAllowedError{OrderID: o.ID, Status: o.Status, Reason: "items can only change while the order is new"}
		}
		o.Items = items
		return Recalculate(o)
	})
	return o, err
}

// SetDiscount changes the order level discount and reprices.
func (s *Service) SetDiscount(ctx context.Context, id string, amount decimal.Decimal) (Order, error) {
	if amount.IsNegative() {
		return Order{}, fmt.Errorf("%w: discount %s", ErrNegativeAmount, amount)
	}
	_, o, err := s.mutate(ctx, "SetDiscount", id, func(o *Order) error {
		if IsTerminal(o.Status) {
			return &OperationNotAllowedError{OrderID: o.ID, Status: o.Status, Reason: "a closed order cannot be repriced"}
		}
		o.DiscountAmount = amount.Round(2)
		return Recalculate(o)
	})
	return o, err
}

// Recalculate reprices the order from its stored items.
func (s *Service) Recalculate(ctx context.Context, id string) (Order, error) {
	_, o, err := s.mutate(ctx, "Recalculate", id, Recalculate)
	return o, err
}

// NoteStockShortfall records on the order why stock could not be reserved.
func (s *Service) NoteStockShortfall(ctx context.Context, id, detail string) (Order, error) {
	_, o, err := s.mutate(ctx, "NoteStockShortfall", id, func(o *Order) error {
		o.Notes = appendNote(o.Notes, "Stock shortfall: "+detail)
		return nil
	})
	return o, err
}

func (s *Service) RequiringProcessing(ctx context.Context) ([]Order, error) {
	return s.Store.List(ctx, Filter{Statuses: []Status{StatusNew, StatusConfirmed}})
}

func (s *Service) ActiveForFlorist(ctx context.Context, floristID string) ([]Order, error) {
	return s.Store.List(ctx, Filter{Statuses: []Status{StatusInProgress}, FloristID: floristID})
}

// ReadyForDelivery lists READY orders that have somewhere to go.
func (s *Service) ReadyForDelivery(ctx context.Context) ([]Order, error) {
	all, err := s.Store.List(ctx, Filter{Statuses: []Status{StatusReady}})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if strings.TrimSpace(o.DeliveryAddress) != "" {
			out = append(out, o)
		}
	}
	return out, nil
}

var openStatuses = []Status{StatusNew, StatusConfirmed, StatusInProgress, StatusReady, StatusOutForDelivery}

// Overdue lists open orders whose delivery time has passed.
func (s *Service) Overdue(ctx context.Context, now time.Time) ([]Order, error) {
	return s.Store.List(ctx, Filter{Statuses: openStatuses, DeliveryBefore: &now})
}

// Statistics summarizes orders created in [from, to].
func (s *Service) Statistics(ctx context.Context, from, to time.Time) (Stats, error) {
	all, err := s.Store.List(ctx, Filter{CreatedFrom: &from, CreatedTo: &to})
	if err != nil {
		return Stats{}, err
	}
	now := s.now()
	st := Stats{ByStatus: make(map[string]int)}
	for _, o := range all {
		st.TotalOrders++
		today := sameDay(o.CreatedAt, now)
		if today {
			st.TodaysOrders++
		}
		st.ByStatus[Label(o.Status)]++
		switch o.Status {
		case StatusNew, StatusConfirmed:
			st.RequiringProcessing++
		case StatusInProgress:
			st.InProgress++
		case StatusReady:
			st.ReadyForDelivery++
		case StatusDelivered:
			st.Delivered++
		case StatusCancelled:
			st.Cancelled++
		}
		if o.Status != StatusCancelled {
			st.TotalRevenue = st.TotalRevenue.Add(o.FinalAmount)
			if today {
				st.TodaysRevenue = st.TodaysRevenue.Add(o.FinalAmount)
			}
		}
	}
	overdue, err := s.Overdue(ctx, now)
	if err != nil {
		return Stats{}, err
	}
	st.Overdue = len(overdue)
	if st.TotalOrders > 0 {
		st.AverageOrderValue = st.TotalRevenue.Div(decimal.NewFromInt(int64(st.TotalOrders))).Round(2)
		st.ConversionRate = float64(st.Delivered) / float64(st.TotalOrders) * 100
	}
	return st, nil
}

func (s *Service) statusChanged(ctx context.Context, before, after Order, reason string) {
	s.log().Info("order status changed", "order_id", after.ID, "order_number", after.OrderNumber,
		"from", before.Status, "to", after.Status)
	s.cacheStatus(ctx, after)
	p := events.OrderStatusChangedPayload{
		OrderID:     after.ID,
		OrderNumber: after.OrderNumber,
		From:        string(before.Status),
		To:          string(after.Status),
		Reason:      reason,
		Items:       lines(after),
		ChangedAt:   after.UpdatedAt,
	}
	if after.AssignedFloristID != nil {
		p.FloristID = *after.AssignedFloristID
	}
	s.emit(ctx, events.TopicOrderStatusChanged, after.ID, events.EventOrderStatusChanged, p)
}

func (s *Service) cacheStatus(ctx context.Context, o Order) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.SetStatus(ctx, o); err != nil {
		s.log().Warn("cache order status", "order_id", o.ID, "err", err)
	}
}

func (s *Service) emit(ctx context.Context, topic, orderID, eventType string, payload any) {
	if s.Producer == nil {
		return
	}
	env, err := events.New(ctx, eventType, s.ServiceName, orderID, payload)
	if err != nil {
		s.log().Error("build event", "event_type", eventType, "order_id", orderID, "err", err)
		return
	}
	events.Emit(ctx, s.Producer, topic, orderID, env)
}

func lines(o Order) []events.OrderLine {
	out := make([]events.OrderLine, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, events.OrderLine{
			ItemID:    it.ProductID,
			ItemType:  string(it.ProductType),
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return out
}
