package redisx

import "time"

const (
	// Order cache: order:{order_id} -> order JSON with items, products stripped
	KeyOrder = "order:%d"

	// Idempotent create: idem:order:create:{user_id}:{idempotency_key} -> "pending" | order_id
	KeyIdemOrderCreate = "idem:order:create:%d:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// Outlives the slowest placement; a crashed request frees its key after it.
	TTLIdempotencyClaim = time.Minute
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
