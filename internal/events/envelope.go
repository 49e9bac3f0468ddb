package events

import (
	"context"
	"encoding/json"
	"time"

	kafkax "github.com/ariefcatur/lavanda-orders/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventStockReserved      = "StockReserved"
	EventStockRejected      = "StockRejected"
	EventStockReleased      = "StockReleased"
	EventStockConsumed      = "StockConsumed"
	EventFreshnessSwept     = "FreshnessSwept"
)

const Version = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher is the write side of the broker. *kafka.Producer implements it.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// New wraps payload in an envelope stamped with the span's trace id, if ctx carries one.
func New(ctx context.Context, eventType, producer, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  Version,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

// Emit publishes env on topic keyed by key. The event type, version and the
// W3C trace context travel as headers.
func Emit(ctx context.Context, pub Publisher, topic string, key string, env Envelope) {
	b := kafkax.MustMarshal(env)
	headers := []kafkago.Header{
		{Key: "x-event-type", Value: []byte(env.EventType)},
		{Key: "x-event-version", Value: []byte("1")},
	}
	carrier := HeaderCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	pub.Publish(topic, PartitionKey(key), b, carrier...)
}

// Decode reads the envelope of a consumed message and restores the producer's
// trace context onto ctx.
func Decode(ctx context.Context, m kafkago.Message) (context.Context, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return ctx, env, err
	}
	carrier := HeaderCarrier(m.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier), env, nil
}
