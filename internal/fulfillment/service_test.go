package fulfillment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/lavanda-orders/internal/events"
	"github.com/ariefcatur/lavanda-orders/internal/redisx"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/cenkalti/backoff/v5"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (c *capture) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, kafkago.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

func (c *capture) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		out = append(out, m.Topic)
	}
	return out
}

type fixture struct {
	svc    *Service
	ledger *stock.Service
	pub    *capture
	mr     *miniredis.Miniredis
	rose   stock.Item
	ribbon stock.Item
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := stock.NewService(stock.NewMemoryStore(), logger)
	ctx := context.Background()
	rose, err := ledger.CreateItem(ctx, stock.NewItem{SKU: "R", Name: "Rose", Kind: stock.KindFlower, Quantity: decimal.NewFromInt(10)})
	require.NoError(t, err)
	ribbon, err := ledger.CreateItem(ctx, stock.NewItem{SKU: "RB", Name: "Ribbon", Kind: stock.KindMaterial, Quantity: decimal.RequireFromString("5.5")})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	pub := &capture{}
	return &fixture{
		svc: &Service{
			Ledger:      ledger,
			Redis:       redisx.New(mr.Addr()),
			Producer:    pub,
			ServiceName: "inventory",
			Logger:      logger,
		},
		ledger: ledger, pub: pub, mr: mr, rose: rose, ribbon: ribbon,
	}
}

func (f *fixture) message(t *testing.T, orderID, to string, qty string) kafkago.Message {
	t.Helper()
	env, err := events.New(context.Background(), events.EventOrderStatusChanged, "order-api", orderID,
		events.OrderStatusChangedPayload{
			OrderID: orderID,
			To:      to,
			Items: []events.OrderLine{
				{ItemID: f.rose.ID, ItemType: "FLOWER", Qty: decimal.RequireFromString(qty)},
				{ItemID: f.ribbon.ID, ItemType: "MATERIAL", Qty: decimal.RequireFromString("1.25")},
				{ItemID: "bouquet-1", ItemType: "BOUQUET", Qty: decimal.NewFromInt(1)},
			},
		})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Topic: events.TopicOrderStatusChanged, Value: b}
}

func (f *fixture) item(t *testing.T, id string) stock.Item {
	t.Helper()
	it, err := f.ledger.GetItem(context.Background(), id)
	require.NoError(t, err)
	return it
}

func TestReserveThenConsume(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-1", "CONFIRMED", "4")))
	assert.Equal(t, "4", f.item(t, f.rose.ID).Reserved.String())
	assert.Equal(t, "1.25", f.item(t, f.ribbon.ID).Reserved.String())
	assert.Equal(t, []string{events.TopicStockReserved}, f.pub.topics())

	// florist picks it up: same reservation, no double count
	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-1", "IN_PROGRESS", "4")))
	assert.Equal(t, "4", f.item(t, f.rose.ID).Reserved.String())

	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-1", "DELIVERED", "4")))
	rose := f.item(t, f.rose.ID)
	assert.Equal(t, "6", rose.Current.String())
	assert.True(t, rose.Reserved.IsZero())
	assert.Equal(t, "4.25", f.item(t, f.ribbon.ID).Current.String())
}

func TestShortfallPublishesRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-2", "CONFIRMED", "11")))
	assert.True(t, f.item(t, f.ribbon.ID).Reserved.IsZero(), "nothing reserved on shortfall")
	require.Equal(t, []string{events.TopicStockRejected}, f.pub.topics())

	var env events.Envelope
	require.NoError(t, json.Unmarshal(f.pub.msgs[0].Value, &env))
	var p events.StockRejectedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "o-2", p.OrderID)
	require.Len(t, p.Details, 1)
	assert.Equal(t, f.rose.ID, p.Details[0].ItemID)
	assert.Equal(t, "10", p.Details[0].Available.String())
}

func TestCancelReleases(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-3", "CONFIRMED", "2")))
	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-3", "CANCELLED", "2")))
	assert.True(t, f.item(t, f.rose.ID).Reserved.IsZero())
	assert.Equal(t, "10", f.item(t, f.rose.ID).Current.String())
}

func TestCancelBeforeConfirmReservesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-9", "CANCELLED", "4")))
	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-9", "CONFIRMED", "4")))

	assert.True(t, f.item(t, f.rose.ID).Reserved.IsZero(), "cancelled order o-9 must not hold roses")
	assert.True(t, f.item(t, f.ribbon.ID).Reserved.IsZero())
	assert.Empty(t, f.pub.topics())
}

func TestConfirmRedeliveredAfterCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-5", "CONFIRMED", "4")))
	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-5", "CANCELLED", "4")))
	// a retried confirmation with a fresh event id
	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-5", "CONFIRMED", "4")))

	assert.True(t, f.item(t, f.rose.ID).Reserved.IsZero())
	assert.Equal(t, "10", f.item(t, f.rose.ID).Current.String())
	assert.Equal(t, []string{events.TopicStockReserved, events.TopicStockReleased}, f.pub.topics())
}

func TestConfirmRacingCancelLeavesNoReservation(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := setup(t)
		ctx := context.Background()
		confirm := f.message(t, "o-7", "CONFIRMED", "4")
		cancel := f.message(t, "o-7", "CANCELLED", "4")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, m := range []kafkago.Message{confirm, cancel} {
			wg.Add(1)
			go func(j int, m kafkago.Message) {
				defer wg.Done()
				errs[j] = f.svc.HandleStatusChanged(ctx, m)
			}(j, m)
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.True(t, f.item(t, f.rose.ID).Reserved.IsZero(), "run %d", i)
		assert.True(t, f.item(t, f.ribbon.ID).Reserved.IsZero(), "run %d", i)
	}
}

func TestDeliveryPublishesConsumed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-6", "CONFIRMED", "2")))
	require.NoError(t, f.svc.HandleStatusChanged(ctx, f.message(t, "o-6", "DELIVERED", "2")))
	require.Equal(t, []string{events.TopicStockReserved, events.TopicStockConsumed}, f.pub.topics())

	var env events.Envelope
	require.NoError(t, json.Unmarshal(f.pub.msgs[1].Value, &env))
	assert.Equal(t, events.EventStockConsumed, env.EventType)
	var p events.StockSettledPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "o-6", p.OrderID)
	assert.Len(t, p.Items, 2)
}

func TestDuplicateEventIsSkipped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := f.message(t, "o-4", "CONFIRMED", "3")

	require.NoError(t, f.svc.HandleStatusChanged(ctx, m))
	require.NoError(t, f.svc.HandleStatusChanged(ctx, m))
	assert.Len(t, f.pub.topics(), 1)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(m.Value, &env))
	assert.True(t, f.mr.Exists("dedup:inventory:"+env.EventID))
}

func TestUndecodableMessageIsPermanent(t *testing.T) {
	f := setup(t)
	err := f.svc.HandleStatusChanged(context.Background(), kafkago.Message{Value: []byte("{")})
	require.Error(t, err)
	var perm *backoff.PermanentError
	assert.ErrorAs(t, err, &perm)
}

func TestStockLinesSkipsBouquets(t *testing.T) {
	got := StockLines([]events.OrderLine{
		{ItemID: "a", ItemType: "FLOWER", Qty: decimal.NewFromInt(1)},
		{ItemID: "b", ItemType: "COMPOSITION", Qty: decimal.NewFromInt(1)},
		{ItemID: "c", ItemType: "MATERIAL", Qty: decimal.NewFromInt(2)},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[1].ItemID)
}
