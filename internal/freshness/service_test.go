package freshness

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/events"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(days int) {
	c.mu.Lock()
	c.t = c.t.AddDate(0, 0, days)
	c.mu.Unlock()
}

func newService(t *testing.T) (*Service, *clock) {
	t.Helper()
	c := &clock{t: day0}
	return &Service{
		Store:  NewMemoryStore(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    c.Now,
	}, c
}

func inDays(n int) time.Time { return Date(day0).AddDate(0, 0, n) }

func TestCreateForDelivery(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	b, err := svc.CreateForDelivery(ctx, "rose", 40, "B-001", inDays(7))
	require.NoError(t, err)
	assert.Equal(t, DefaultStorage, b.StorageConditions)
	assert.Equal(t, StatusFresh, b.Status)
	assert.Equal(t, Date(day0), b.DeliveryDate)
	assert.Nil(t, b.Discount)

	_, err = svc.CreateForDelivery(ctx, "rose", 0, "B-002", inDays(7))
	require.ErrorIs(t, err, ErrInvalidBatch)

	bad := 120
	_, err = svc.CreateBatch(ctx, NewBatch{ItemID: "rose", Quantity: 1, Discount: &bad})
	require.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestCreateBatchRequiresFlower(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	items := stock.NewService(stock.NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.Items = items

	ribbon, err := items.CreateItem(ctx, stock.NewItem{SKU: "RB", Name: "Ribbon", Kind: stock.KindMaterial, Quantity: decimal.NewFromInt(5)})
	require.NoError(t, err)
	_, err = svc.CreateForDelivery(ctx, ribbon.ID, 5, "", inDays(3))
	require.ErrorIs(t, err, ErrInvalidBatch)

	_, err = svc.CreateForDelivery(ctx, "missing", 5, "", inDays(3))
	require.ErrorIs(t, err, stock.ErrNotFound)
}

func TestSweepCountsStatusChanges(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	_, err := svc.CreateForDelivery(ctx, "rose", 10, "A", inDays(1))  // CRITICAL
	require.NoError(t, err)
	_, err = svc.CreateForDelivery(ctx, "tulip", 10, "B", inDays(10)) // FRESH
	require.NoError(t, err)
	sold, err := svc.CreateForDelivery(ctx, "lily", 10, "C", inDays(1))
	require.NoError(t, err)
	_, err = svc.MarkSold(ctx, sold.ID, time.Time{})
	require.NoError(t, err)

	n, err := svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing changed on the same day")

	clk.Advance(1)
	n, err = svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	today, err := svc.ExpiringToday(ctx)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "A", today[0].BatchNumber)
	assert.Equal(t, 70, today[0].EffectiveDiscount())

	n, err = svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "recompute is idempotent")

	got, err := svc.Get(ctx, sold.ID)
	require.NoError(t, err)
	assert.True(t, got.Sold)
	assert.Equal(t, StatusCritical, got.Status, "sold batch is frozen")
	assert.Equal(t, 50, got.EffectiveDiscount())
}

func TestSweepPastExpiryClearsMarkdown(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	b, err := svc.CreateForDelivery(ctx, "rose", 10, "E", inDays(0))
	require.NoError(t, err)
	assert.Equal(t, 70, b.EffectiveDiscount())

	clk.Advance(1)
	n, err := svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, 0, got.EffectiveDiscount())

	recs, err := svc.DiscountRecommendations(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCreateBatchZeroDiscountIsUnset(t *testing.T) {
	svc, _ := newService(t)
	zero, expiry := 0, inDays(1)
	b, err := svc.CreateBatch(context.Background(), NewBatch{ItemID: "rose", Quantity: 5,
		ExpiryDate: &expiry, Discount: &zero})
	require.NoError(t, err)
	assert.False(t, b.DiscountExplicit)
	assert.Equal(t, 50, b.EffectiveDiscount())
}

func TestApplyDiscountSurvivesSweep(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	b, err := svc.CreateForDelivery(ctx, "rose", 10, "A", inDays(3))
	require.NoError(t, err)
	assert.Equal(t, 25, b.EffectiveDiscount())

	_, err = svc.ApplyDiscount(ctx, b.ID, 101)
	require.ErrorIs(t, err, ErrInvalidDiscount)
	_, err = svc.ApplyDiscount(ctx, b.ID, 15)
	require.NoError(t, err)

	clk.Advance(2)
	_, err = svc.RecomputeAll(ctx)
	require.NoError(t, err)
	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, got.Status)
	assert.Equal(t, 15, got.EffectiveDiscount())

	_, err = svc.ApplyDiscount(ctx, "missing", 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueries(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	warn, _ := svc.CreateForDelivery(ctx, "rose", 5, "W", inDays(2))
	crit, _ := svc.CreateForDelivery(ctx, "rose", 5, "C", inDays(1))
	_, _ = svc.CreateForDelivery(ctx, "tulip", 5, "F", inDays(9))
	past := inDays(-2)
	_, err := svc.CreateBatch(ctx, NewBatch{ItemID: "tulip", Quantity: 3, DeliveryDate: &past, ExpiryDate: &past})
	require.NoError(t, err)

	need, err := svc.NeedingDiscount(ctx)
	require.NoError(t, err)
	require.Len(t, need, 2)
	assert.Equal(t, crit.ID, need[0].ID)
	assert.Equal(t, warn.ID, need[1].ID)

	recs, err := svc.DiscountRecommendations(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 50, recs[0].Recommended)

	expired, err := svc.Expired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, 0, RecommendedDiscount(expired[0].Status))

	byItem, _ := svc.ByItem(ctx, "rose")
	assert.Len(t, byItem, 2)
	byNum, _ := svc.ByBatchNumber(ctx, "F")
	assert.Len(t, byNum, 1)
	byDay, _ := svc.ByDeliveryDate(ctx, day0)
	assert.Len(t, byDay, 3)
	before, _ := svc.ExpiringBefore(ctx, inDays(3))
	assert.Len(t, before, 3)

	st, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Unsold)
	assert.Equal(t, 18, st.UnsoldQuantity)
	assert.Equal(t, 2, st.NeedingDiscount)
	assert.Equal(t, 1, st.ByStatus[StatusExpired])
}

func TestSoldInPeriodAndCleanup(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	a, _ := svc.CreateForDelivery(ctx, "rose", 5, "A", inDays(1))
	b, _ := svc.CreateForDelivery(ctx, "rose", 5, "B", inDays(2))
	_, err := svc.MarkSold(ctx, a.ID, inDays(0))
	require.NoError(t, err)
	_, err = svc.MarkSold(ctx, b.ID, inDays(5))
	require.NoError(t, err)

	sold, err := svc.SoldInPeriod(ctx, inDays(-1), inDays(1))
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, a.ID, sold[0].ID)

	clk.Advance(10)
	n, err := svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = svc.Get(ctx, a.ID)
	require.NoError(t, err, "sweep never deletes")

	n, err = svc.CleanupExpired(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = svc.Get(ctx, b.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

type capture struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (c *capture) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, kafkago.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestSweeperPublishes(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreateForDelivery(context.Background(), "rose", 5, "A", inDays(3))
	require.NoError(t, err)

	pub := &capture{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	w := &Sweeper{Service: svc, Interval: time.Hour, Publisher: pub, ServiceName: "test"}
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	m := pub.msgs[0]
	assert.Equal(t, events.TopicFreshnessSwept, m.Topic)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(m.Value, &env))
	assert.Equal(t, events.EventFreshnessSwept, env.EventType)
	var p events.FreshnessSweptPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 0, p.Changed)
}
