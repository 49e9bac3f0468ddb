package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/lavanda-orders/internal/redisx"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	items map[string]stock.Snapshot
	calls int
}

func (s *countingSource) Snapshot(_ context.Context, id string) (stock.Snapshot, error) {
	s.calls++
	it, ok := s.items[id]
	if !ok {
		return stock.Snapshot{}, stock.ErrNotFound
	}
	return it, nil
}

func TestLookupCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	src := &countingSource{items: map[string]stock.Snapshot{
		"rose": {ID: "rose", Name: "Red rose", Kind: stock.KindFlower, Unit: stock.UnitPiece, UnitPrice: decimal.RequireFromString("3.50"), Active: true},
	}}
	c := &Catalog{Source: src, Redis: redisx.New(mr.Addr())}
	ctx := context.Background()

	s, err := c.Lookup(ctx, "rose")
	require.NoError(t, err)
	assert.Equal(t, "Red rose", s.Name)

	src.items["rose"] = stock.Snapshot{ID: "rose", Name: "Renamed", Active: true}
	s, err = c.Lookup(ctx, "rose")
	require.NoError(t, err)
	assert.Equal(t, "Red rose", s.Name, "served from cache")
	assert.True(t, decimal.RequireFromString("3.5").Equal(s.UnitPrice))
	assert.Equal(t, 1, src.calls)

	mr.FastForward(redisx.TTLCatalog + time.Second)
	s, err = c.Lookup(ctx, "rose")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", s.Name)
	assert.Equal(t, 2, src.calls)

	require.NoError(t, c.Invalidate(ctx, "rose"))
	_, err = c.Lookup(ctx, "rose")
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)

	_, err = c.Lookup(ctx, "missing")
	require.ErrorIs(t, err, stock.ErrNotFound)
}

func TestLookupWithoutRedis(t *testing.T) {
	src := &countingSource{items: map[string]stock.Snapshot{"x": {ID: "x"}}}
	c := &Catalog{Source: src}
	_, err := c.Lookup(context.Background(), "x")
	require.NoError(t, err)
	_, err = c.Lookup(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
