package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/lavanda-orders/internal/redisx"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/redis/go-redis/v9"
)

// Source returns the live snapshot of a stock item. *stock.Service implements it.
type Source interface {
	Snapshot(ctx context.Context, id string) (stock.Snapshot, error)
}

// Catalog serves product snapshots for order creation, cached in Redis.
type Catalog struct {
	Source Source
	Redis  *redis.Client // optional
	Logger *slog.Logger
}

func (c *Catalog) log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default().With("component", "catalog")
	}
	return c.Logger
}

func (c *Catalog) Lookup(ctx context.Context, id string) (stock.Snapshot, error) {
	key := fmt.Sprintf(redisx.KeyCatalogItem, id)
	if c.Redis != nil {
		raw, err := c.Redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var s stock.Snapshot
			if err := json.Unmarshal(raw, &s); err == nil {
				return s, nil
			}
			c.log().Warn("drop corrupt catalog entry", "item_id", id)
		case !errors.Is(err, redis.Nil):
			c.log().Warn("catalog cache read", "item_id", id, "err", err)
		}
	}

	s, err := c.Source.Snapshot(ctx, id)
	if err != nil {
		return stock.Snapshot{}, err
	}
	if c.Redis != nil {
		b, _ := json.Marshal(s)
		if err := c.Redis.Set(ctx, key, b, redisx.TTLCatalog).Err(); err != nil {
			c.log().Warn("catalog cache write", "item_id", id, "err", err)
		}
	}
	return s, nil
}

// Invalidate drops the cached snapshot so the next lookup sees fresh data.
func (c *Catalog) Invalidate(ctx context.Context, id string) error {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Del(ctx, fmt.Sprintf(redisx.KeyCatalogItem, id)).Err()
}
