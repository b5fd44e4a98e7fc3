package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// claimPending marks a key whose request is still placing its order.
const claimPending = "pending"

// Idempotency maps a client supplied Idempotency-Key to the order it created.
// Keys are scoped per user so two customers can reuse the same key.
type Idempotency struct {
	RDB redis.Cmdable
}

// Claim reserves key for the calling request. claimed is true when the caller
// now owns the key and must Complete or Release it. Otherwise orderID is the
// order already created under key, or 0 while another request still holds it.
func (i *Idempotency) Claim(ctx context.Context, userID int64, key string) (orderID int64, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := i.RDB.SetNX(ctx, k, claimPending, TTLIdempotencyClaim).Result()
		if err != nil {
			return 0, false, fmt.Errorf("idempotency claim: %w", err)
		}
		if ok {
			return 0, true, nil
		}
		v, err := i.RDB.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("idempotency claim: %w", err)
		}
		if v == claimPending {
			return 0, false, nil
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("idempotency claim: stored value %q: %w", v, err)
		}
		return id, false, nil
	}
	return 0, false, nil
}

// Complete replaces the pending claim with the created order id.
func (i *Idempotency) Complete(ctx context.Context, userID int64, key string, orderID int64) error {
	if err := i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

// Release drops a claim so the key can be used again.
func (i *Idempotency) Release(ctx context.Context, userID int64, key string) error {
	if err := i.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
