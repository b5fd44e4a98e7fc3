package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

var _ orders.Cache = (*OrderCache)(nil)

// OrderCache stores orders as JSON under KeyOrder with the joined products
// stripped; readers join live products themselves. Nothing in this service
// updates an order row after placement, so a TTL is the only invalidation.
type OrderCache struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func (c *OrderCache) ttl() time.Duration {
	if c.TTL <= 0 {
		return TTLOrderCache
	}
	return c.TTL
}

func (c *OrderCache) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached order %d: %w", id, err)
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("decode cached order %d: %w", id, err)
	}
	return &o, nil
}

func (c *OrderCache) SetOrder(ctx context.Context, o orders.Order) error {
	items := make([]orders.OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Product = nil
		items[i] = it
	}
	o.Items = items
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", o.ID, err)
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, c.ttl()).Err()
}
