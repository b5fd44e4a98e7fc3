// Package memstore is an in-process orders.Store. Rows are locked
// exclusively until the owning transaction ends, and writes are staged and
// applied in one step at commit, so it keeps the placement guarantees of the
// Postgres store without a database.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

var _ orders.Store = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	products map[int64]orders.Product
	orders   map[int64]orders.Order
	items    map[int64][]orders.OrderItem // by order id
	rowLocks map[int64]chan struct{}

	productSeq, orderSeq, itemSeq int64

	now func() time.Time
}

func New() *Store {
	return &Store{
		products: make(map[int64]orders.Product),
		orders:   make(map[int64]orders.Order),
		items:    make(map[int64][]orders.OrderItem),
		rowLocks: make(map[int64]chan struct{}),
		now:      time.Now,
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	t := &tx{
		s:     s,
		held:  make(map[int64]chan struct{}),
		stock: make(map[int64]int),
	}
	defer t.release()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, stock := range t.stock {
		p := s.products[id]
		p.Stock = stock
		p.UpdatedAt = now
		s.products[id] = p
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
	for _, it := range t.items {
		s.items[it.OrderID] = append(s.items[it.OrderID], it)
	}
}

// rowLock must be called with s.mu held.
func (s *Store) rowLock(id int64) chan struct{} {
	l, ok := s.rowLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.rowLocks[id] = l
	}
	return l
}

func (s *Store) ListOrders(ctx context.Context) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, s.joined(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return s.joined(o), nil
}

// joined must be called with s.mu held.
func (s *Store) joined(o orders.Order) orders.Order {
	src := s.items[o.ID]
	o.Items = make([]orders.OrderItem, 0, len(src))
	for _, it := range src {
		if p, ok := s.products[it.ProductID]; ok {
			it.Product = &p
		}
		o.Items = append(o.Items, it)
	}
	return o
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ProductsByID(ctx context.Context, ids []int64) (map[int64]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, &orders.ProductNotFoundError{ProductID: id}
	}
	return p, nil
}

// EnsureProduct inserts p unless a product with the same name exists, and
// returns the stored row either way.
func (s *Store) EnsureProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	if p.Stock < 0 || p.Price.IsNegative() {
		return orders.Product{}, errors.New("product price and stock must be non-negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.Name == p.Name {
			return existing, nil
		}
	}
	s.productSeq++
	now := s.now()
	p.ID = s.productSeq
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = p
	return p, nil
}

// DeleteProduct removes a catalog row. Existing order items keep their
// product id and price.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	l := s.rowLock(id)
	s.mu.Unlock()

	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l }()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	return nil
}

type tx struct {
	s      *Store
	held   map[int64]chan struct{}
	stock  map[int64]int
	orders []orders.Order
	items  []orders.OrderItem
}

func (t *tx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}

func (t *tx) LockProduct(ctx context.Context, id int64) (orders.Product, error) {
	if _, ok := t.held[id]; !ok {
		t.s.mu.Lock()
		_, exists := t.s.products[id]
		l := t.s.rowLock(id)
		t.s.mu.Unlock()
		if !exists {
			return orders.Product{}, &orders.ProductNotFoundError{ProductID: id}
		}

		select {
		case l <- struct{}{}:
		case <-ctx.Done():
			return orders.Product{}, fmt.Errorf("lock product %d: %w", id, ctx.Err())
		}
		t.held[id] = l
	}

	t.s.mu.Lock()
	p, ok := t.s.products[id]
	t.s.mu.Unlock()
	if !ok {
		// Deleted while we waited for the lock.
		return orders.Product{}, &orders.ProductNotFoundError{ProductID: id}
	}
	if staged, ok := t.stock[id]; ok {
		p.Stock = staged
	}
	return p, nil
}

func (t *tx) SetStock(ctx context.Context, id int64, stock int) error {
	if _, ok := t.held[id]; !ok {
		return fmt.Errorf("product %d is not locked by this transaction", id)
	}
	if stock < 0 {
		return fmt.Errorf("product %d: stock cannot go negative", id)
	}
	t.stock[id] = stock
	return nil
}

func (t *tx) CreateOrder(ctx context.Context, o *orders.Order) error {
	t.s.mu.Lock()
	t.s.orderSeq++
	o.ID = t.s.orderSeq
	now := t.s.now()
	t.s.mu.Unlock()

	o.CreatedAt, o.UpdatedAt = now, now
	stored := *o
	stored.Items = nil
	t.orders = append(t.orders, stored)
	return nil
}

func (t *tx) CreateOrderItem(ctx context.Context, it *orders.OrderItem) error {
	if it.Quantity < 1 {
		return fmt.Errorf("order item quantity must be positive, got %d", it.Quantity)
	}
	known := false
	for _, o := range t.orders {
		if o.ID == it.OrderID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("order %d not created in this transaction", it.OrderID)
	}

	t.s.mu.Lock()
	t.s.itemSeq++
	it.ID = t.s.itemSeq
	now := t.s.now()
	t.s.mu.Unlock()

	it.CreatedAt, it.UpdatedAt = now, now
	stored := *it
	stored.Product = nil
	t.items = append(t.items, stored)
	return nil
}
