package events

import (
	"context"
	"encoding/json"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type sink struct{ msgs []kafkago.Message }

func (s *sink) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	s.msgs = append(s.msgs, kafkago.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

func TestEmitDecodeCarriesTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))

	env, err := New(ctx, EventOrderCreated, "order-api", "o-1", OrderCreatedPayload{OrderID: "o-1", OrderNumber: "LV-20240520-0001"})
	require.NoError(t, err)
	assert.Equal(t, tid.String(), env.TraceID)

	s := &sink{}
	Emit(ctx, s, TopicOrderCreated, "o-1", env)
	require.Len(t, s.msgs, 1)
	m := s.msgs[0]
	assert.Equal(t, TopicOrderCreated, m.Topic)
	assert.Equal(t, "o-1", string(m.Key))

	c := HeaderCarrier(m.Headers)
	assert.Equal(t, EventOrderCreated, c.Get("x-event-type"))
	assert.NotEmpty(t, c.Get("traceparent"))

	got, decoded, err := Decode(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, tid, trace.SpanContextFromContext(got).TraceID())

	var p OrderCreatedPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &p))
	assert.Equal(t, "LV-20240520-0001", p.OrderNumber)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode(context.Background(), kafkago.Message{Value: []byte("not json")})
	require.Error(t, err)
}

func TestHeaderCarrierSetOverwrites(t *testing.T) {
	var c HeaderCarrier
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")
	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}
