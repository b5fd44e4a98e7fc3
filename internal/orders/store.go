package orders

import "context"

// Store is the relational backend the service runs against.
type Store interface {
	// InTx runs fn inside one transaction. fn returning nil commits; any
	// error rolls back and is returned to the caller. Implementations must
	// roll back on every exit path, panics included.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListOrders returns every order newest first with items and products joined.
	ListOrders(ctx context.Context) ([]Order, error)
	// GetOrder returns ErrOrderNotFound when id does not exist.
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// ProductsByID returns the current rows for ids; unknown ids are absent
	// from the map.
	ProductsByID(ctx context.Context, ids []int64) (map[int64]Product, error)
}

// Tx is the narrow capability the placement flow needs inside a transaction.
type Tx interface {
	// LockProduct takes an exclusive row lock held until commit/rollback and
	// returns the locked row, or *ProductNotFoundError.
	LockProduct(ctx context.Context, id int64) (Product, error)
	SetStock(ctx context.Context, id int64, stock int) error
	// CreateOrder assigns o.ID and the timestamps.
	CreateOrder(ctx context.Context, o *Order) error
	// CreateOrderItem assigns it.ID and the timestamps.
	CreateOrderItem(ctx context.Context, it *OrderItem) error
}

// Cache is an optional read-through cache in front of GetOrder. It holds the
// order and its items only; products are joined from the store on every read.
type Cache interface {
	// GetOrder returns (nil, nil) on a miss.
	GetOrder(ctx context.Context, id int64) (*Order, error)
	SetOrder(ctx context.Context, o Order) error
}

type Publisher interface {
	PublishOrderCreated(ctx context.Context, o Order) error
}
