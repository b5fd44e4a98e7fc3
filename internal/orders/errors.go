package orders

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrDeadlock is wrapped by stores when the backend aborted the
	// transaction to break a lock cycle. The transaction is already rolled back.
	ErrDeadlock = errors.New("transaction deadlock")
)

// ValidationError rejects malformed input. It is raised before the
// transaction opens, except for an order total too large to store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Product %s is out of stock", e.ProductName)
}

// StorageError wraps any failure of the backend itself (begin, lock, write,
// commit). Its message is diagnostic only.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }
