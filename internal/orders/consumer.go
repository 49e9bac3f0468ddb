package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/lavanda-orders/internal/events"
	kafkax "github.com/ariefcatur/lavanda-orders/internal/kafka"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/cenkalti/backoff/v5"
	kafkago "github.com/segmentio/kafka-go"
)

// HandleStockRejected consumes stock.rejected and records the shortfall on the order
// so staff see why it cannot be made up.
func (s *Service) HandleStockRejected(ctx context.Context, m kafkago.Message) error {
	ctx, env, err := events.Decode(ctx, m)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if env.EventType != events.EventStockRejected {
		return nil
	}
	p, err := kafkax.UnwrapPayload[events.StockRejectedPayload](env.Payload)
	if err != nil {
		return backoff.Permanent(err)
	}

	_, err = s.NoteStockShortfall(ctx, p.OrderID, ShortfallNote(p))
	if errors.Is(err, ErrNotFound) {
		s.log().Warn("stock rejection for unknown order", "order_id", p.OrderID, "event_id", env.EventID)
		return nil
	}
	return err
}

// ShortfallNote renders a rejection as one line, e.g.
// "OUT_OF_STOCK: item r-1 needs 12, 10 available".
func ShortfallNote(p events.StockRejectedPayload) string {
	parts := make([]string, 0, len(p.Details))
	for _, d := range p.Details {
		if d.ItemID == "" {
			parts = append(parts, d.Reason)
			continue
		}
		line := fmt.Sprintf("item %s needs %s, %s available", d.ItemID, d.Required, d.Available)
		if d.Reason != "" && d.Reason != stock.ErrInsufficientStock.Error() {
			line += " (" + d.Reason + ")"
		}
		parts = append(parts, line)
	}
	if len(parts) == 0 {
		return p.Reason
	}
	return p.Reason + ": " + strings.Join(parts, "; ")
}
