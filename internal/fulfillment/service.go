package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/lavanda-orders/internal/events"
	kafkax "github.com/ariefcatur/lavanda-orders/internal/kafka"
	"github.com/ariefcatur/lavanda-orders/internal/redisx"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/ariefcatur/lavanda-orders/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ariefcatur/lavanda-orders/internal/fulfillment")

// Ledger is the part of the stock service that follows the order lifecycle.
type Ledger interface {
	ReserveForOrder(ctx context.Context, orderID string, lines []stock.Line) ([]stock.Reservation, error)
	ReleaseForOrder(ctx context.Context, orderID string) ([]stock.Reservation, error)
	ConsumeForOrder(ctx context.Context, orderID string) ([]stock.Reservation, error)
}

// Service turns order status changes into stock ledger operations:
// CONFIRMED / IN_PROGRESS reserve, CANCELLED / RETURNED release, DELIVERED consumes.
type Service struct {
	Ledger      Ledger
	Redis       *redis.Client // dedup; optional
	Producer    events.Publisher
	ServiceName string
	Logger      *slog.Logger
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("component", "fulfillment")
	}
	return s.Logger
}

// HandleStatusChanged is installed as the consumer handler for order.status.changed.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) (err error) {
	ctx, env, err := events.Decode(ctx, m)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if env.EventType != events.EventOrderStatusChanged {
		return nil
	}
	p, err := kafkax.UnwrapPayload[events.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		return backoff.Permanent(err)
	}

	ctx, span := tracer.Start(ctx, "fulfillment.HandleStatusChanged")
	span.SetAttributes(attribute.String("order_id", p.OrderID), attribute.String("to", p.To))
	defer func() { telemetry.End(span, err) }()

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if s.Redis != nil {
		claimed, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			return err
		}
		if !claimed {
			s.log().Info("duplicate event skipped", "event_id", env.EventID, "order_id", p.OrderID)
			return nil
		}
	}

	if err = s.apply(ctx, p); err != nil && s.Redis != nil {
		// let a retry or redelivery claim the event again
		_ = s.Redis.Del(ctx, dkey).Err()
	}
	return err
}

func (s *Service) apply(ctx context.Context, p events.OrderStatusChangedPayload) error {
	switch p.To {
	case "CONFIRMED", "IN_PROGRESS":
		return s.reserve(ctx, p)
	case "CANCELLED", "RETURNED":
		res, err := s.Ledger.ReleaseForOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		s.log().Info("stock released", "order_id", p.OrderID, "lines", len(res))
		return s.publishSettled(ctx, events.TopicStockReleased, events.EventStockReleased, p.OrderID, res)
	case "DELIVERED":
		res, err := s.Ledger.ConsumeForOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		s.log().Info("stock consumed", "order_id", p.OrderID, "lines", len(res))
		return s.publishSettled(ctx, events.TopicStockConsumed, events.EventStockConsumed, p.OrderID, res)
	}
	return nil
}

func itemQtys(res []stock.Reservation) []events.ItemQty {
	items := make([]events.ItemQty, 0, len(res))
	for _, r := range res {
		items = append(items, events.ItemQty{ItemID: r.ItemID, Qty: r.Qty})
	}
	return items
}

func (s *Service) publishSettled(ctx context.Context, topic, eventType, orderID string, res []stock.Reservation) error {
	if len(res) == 0 {
		return nil
	}
	return s.publish(ctx, topic, orderID, eventType,
		events.StockSettledPayload{OrderID: orderID, Items: itemQtys(res)})
}

// StockLines keeps the order lines the ledger tracks; bouquets and compositions are not stock.
func StockLines(items []events.OrderLine) []stock.Line {
	var out []stock.Line
	for _, it := range items {
		if it.ItemType == string(stock.KindFlower) || it.ItemType == string(stock.KindMaterial) {
			out = append(out, stock.Line{ItemID: it.ItemID, Qty: it.Qty})
		}
	}
	return out
}

func (s *Service) reserve(ctx context.Context, p events.OrderStatusChangedPayload) error {
	lines := StockLines(p.Items)
	if len(lines) == 0 {
		return nil
	}
	res, err := s.Ledger.ReserveForOrder(ctx, p.OrderID, lines)
	var short *stock.ShortfallError
	switch {
	case errors.As(err, &short):
		return s.publishRejected(ctx, p.OrderID, short.Details)
	case errors.Is(err, stock.ErrOrderSettled):
		s.log().Info("order already settled, not reserving", "order_id", p.OrderID, "to", p.To)
		return nil
	case errors.Is(err, stock.ErrNotFound), errors.Is(err, stock.ErrInvalidQuantity):
		s.log().Warn("order references unknown stock", "order_id", p.OrderID, "err", err)
		return s.publishRejected(ctx, p.OrderID, []stock.Shortfall{{Reason: err.Error()}})
	case err != nil:
		return err
	}
	for _, r := range res {
		if r.Status != stock.ReservationReserved {
			// redelivered after release or consumption
			s.log().Info("reservation already settled", "order_id", p.OrderID, "status", r.Status)
			return nil
		}
	}
	return s.publish(ctx, events.TopicStockReserved, p.OrderID, events.EventStockReserved,
		events.StockReservedPayload{OrderID: p.OrderID, Items: itemQtys(res)})
}

func (s *Service) publishRejected(ctx context.Context, orderID string, details []stock.Shortfall) error {
	out := make([]events.StockRejectedDetail, 0, len(details))
	for _, d := range details {
		out = append(out, events.StockRejectedDetail{ItemID: d.ItemID, Required: d.Required, Available: d.Available, Reason: d.Reason})
	}
	s.log().Warn("stock rejected", "order_id", orderID, "lines", len(out))
	return s.publish(ctx, events.TopicStockRejected, orderID, events.EventStockRejected,
		events.StockRejectedPayload{OrderID: orderID, Reason: "OUT_OF_STOCK", Details: out})
}

func (s *Service) publish(ctx context.Context, topic, orderID, eventType string, payload any) error {
	if s.Producer == nil {
		return nil
	}
	env, err := events.New(ctx, eventType, s.ServiceName, orderID, payload)
	if err != nil {
		return err
	}
	events.Emit(ctx, s.Producer, topic, orderID, env)
	return nil
}
