package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Cache keeps the idempotency map external_id -> order_id and a short-lived copy
// of each order's status in Redis. Cache misses and Redis errors fall back to the store.
type Cache struct {
	Redis *redis.Client
}

type cachedStatus struct {
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Cache) SetStatus(ctx context.Context, o Order) error {
	b, err := json.Marshal(cachedStatus{Status: o.Status, UpdatedAt: o.UpdatedAt})
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err()
}

// Status returns the cached status; ok is false on a miss.
func (c *Cache) Status(ctx context.Context, orderID string) (st Status, ok bool, err error) {
	raw, err := c.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var cs cachedStatus
	if err := json.Unmarshal(raw, &cs); err != nil {
		return "", false, err
	}
	return cs.Status, true, nil
}

func (c *Cache) Forget(ctx context.Context, o Order) error {
	keys := []string{fmt.Sprintf(redisx.KeyOrderStatus, o.ID)}
	if o.ExternalID != "" {
		keys = append(keys, fmt.Sprintf(redisx.KeyIdemOrderCreate, o.ExternalID))
	}
	return c.Redis.Del(ctx, keys...).Err()
}

func (c *Cache) RememberExternal(ctx context.Context, externalID, orderID string) error {
	return c.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, externalID), orderID, redisx.TTLIdempotency).Err()
}

// LookupExternal returns the order id created for externalID, or "" on a miss.
func (c *Cache) LookupExternal(ctx context.Context, externalID string) (string, error) {
	id, err := c.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}
