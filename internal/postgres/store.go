package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const sqlstateDeadlock = "40P01"

var _ orders.Store = (*Store)(nil)

type Store struct {
	DB *pgxpool.Pool
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// No-op once committed; runs on panics too.
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapErr tags Postgres deadlock aborts so the service can retry them.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateDeadlock && !errors.Is(err, orders.ErrDeadlock) {
		return fmt.Errorf("%w: %w", orders.ErrDeadlock, err)
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockProduct(ctx context.Context, id int64) (orders.Product, error) {
	var p orders.Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, description, price, stock, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, &orders.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("lock product %d: %w", id, err)
	}
	return p, nil
}

func (t *pgTx) SetStock(ctx context.Context, id int64, stock int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, id, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("product %d: %d rows updated", id, tag.RowsAffected())
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *orders.Order) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, address, phone, total, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		o.UserID, o.Address, o.Phone, o.Total, string(o.Status)).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (t *pgTx) CreateOrderItem(ctx context.Context, it *orders.OrderItem) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		it.OrderID, it.ProductID, it.Quantity, it.Price).
		Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
}

const orderColumns = `id, user_id, address, phone, total, status, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Address, &o.Phone, &o.Total, &status, &o.CreatedAt, &o.UpdatedAt)
	o.Status = orders.Status(status)
	return o, err
}

func (s *Store) ListOrders(ctx context.Context) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		out []orders.Order
		ids []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(out) == 0 {
		return []orders.Order{}, nil
	}

	items, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		if out[i].Items == nil {
			out[i].Items = []orders.OrderItem{}
		}
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("get order %d: %w", id, err)
	}

	items, err := s.itemsFor(ctx, []int64{id})
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = items[id]
	if o.Items == nil {
		o.Items = []orders.OrderItem{}
	}
	return o, nil
}

// itemsFor loads the items of the given orders with their product joined,
// grouped by order id in insertion order.
func (s *Store) itemsFor(ctx context.Context, orderIDs []int64) (map[int64][]orders.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT i.id, i.order_id, i.product_id, i.quantity, i.price, i.created_at, i.updated_at,
		       p.id, p.name, p.description, p.price, p.stock, p.created_at, p.updated_at
		FROM order_items i
		LEFT JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.order_id, i.id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			it       orders.OrderItem
			pID      *int64
			pName    *string
			pDesc    *string
			pPrice   decimal.NullDecimal
			pStock   *int
			pCreated *time.Time
			pUpdated *time.Time
		)
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.CreatedAt, &it.UpdatedAt,
			&pID, &pName, &pDesc, &pPrice, &pStock, &pCreated, &pUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if pID != nil {
			it.Product = &orders.Product{
				ID:          *pID,
				Name:        deref(pName),
				Description: deref(pDesc),
				Price:       pPrice.Decimal,
				Stock:       deref(pStock),
				CreatedAt:   deref(pCreated),
				UpdatedAt:   deref(pUpdated),
			}
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return out, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

const productColumns = `id, name, description, price, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ProductsByID(ctx context.Context, ids []int64) (map[int64]orders.Product, error) {
	out := make(map[int64]orders.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("products by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, &orders.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// EnsureProduct inserts p unless a product with the same name exists, and
// returns the stored row either way.
func (s *Store) EnsureProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	if _, err := s.DB.Exec(ctx, `
		INSERT INTO products (name, description, price, stock)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING`,
		p.Name, p.Description, p.Price, p.Stock); err != nil {
		return orders.Product{}, fmt.Errorf("ensure product %q: %w", p.Name, err)
	}
	stored, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE name = $1`, p.Name))
	if err != nil {
		return orders.Product{}, fmt.Errorf("load product %q: %w", p.Name, err)
	}
	return stored, nil
}
