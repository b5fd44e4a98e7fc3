package redisx

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, Ping(ctx, rdb))
	return rdb
}

func TestOrderCache_RoundTripAndMiss(t *testing.T) {
	ctx := context.Background()
	rdb := newTestClient(t)
	c := &OrderCache{RDB: rdb, TTL: time.Minute}

	id := time.Now().UnixNano()
	t.Cleanup(func() { rdb.Del(ctx, fmt.Sprintf(KeyOrder, id)) })

	miss, err := c.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, miss)

	o := orders.Order{
		ID: id, UserID: 3, Address: "a", Phone: "p",
		Total:  decimal.RequireFromString("59.98"),
		Status: orders.StatusPending,
		Items: []orders.OrderItem{{
			ProductID: 2, Quantity: 2, Price: decimal.RequireFromString("29.99"),
			Product: &orders.Product{ID: 2, Name: "Mouse", Price: decimal.RequireFromString("29.99"), Stock: 48},
		}},
	}
	require.NoError(t, c.SetOrder(ctx, o))

	got, err := c.GetOrder(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Total.Equal(o.Total))
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(2), got.Items[0].ProductID)
	assert.Nil(t, got.Items[0].Product, "products are joined at read time, never cached")
	assert.NotNil(t, o.Items[0].Product, "caller's order is left untouched")

	ttl, err := rdb.TTL(ctx, fmt.Sprintf(KeyOrder, id)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestIdempotency_ClaimCompleteRelease(t *testing.T) {
	ctx := context.Background()
	rdb := newTestClient(t)
	idem := &Idempotency{RDB: rdb}
	key := uuid.NewString()
	t.Cleanup(func() {
		rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, 1, key))
		rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, 2, key))
	})

	_, claimed, err := idem.Claim(ctx, 1, key)
	require.NoError(t, err)
	assert.True(t, claimed)

	id, claimed, err := idem.Claim(ctx, 1, key)
	require.NoError(t, err)
	assert.False(t, claimed, "a second request sees the pending claim")
	assert.Zero(t, id)

	_, claimed, err = idem.Claim(ctx, 2, key)
	require.NoError(t, err)
	assert.True(t, claimed, "keys are scoped per user")

	require.NoError(t, idem.Complete(ctx, 1, key, 10))
	id, claimed, err = idem.Claim(ctx, 1, key)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(10), id)

	ttl, err := rdb.TTL(ctx, fmt.Sprintf(KeyIdemOrderCreate, 1, key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, TTLIdempotencyClaim)

	require.NoError(t, idem.Release(ctx, 2, key))
	_, claimed, err = idem.Claim(ctx, 2, key)
	require.NoError(t, err)
	assert.True(t, claimed, "a released key can be claimed again")
}

func TestDedup_FirstSeen(t *testing.T) {
	ctx := context.Background()
	rdb := newTestClient(t)
	d := &Dedup{RDB: rdb, Service: "test"}
	id := uuid.NewString()
	t.Cleanup(func() { _ = d.Forget(ctx, id) })

	first, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Forget(ctx, id))
	first, err = d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)
}
