// Package seed loads the demo catalog and one demo order.
package seed

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Catalog inserts a product unless one with the same name exists.
type Catalog interface {
	EnsureProduct(ctx context.Context, p orders.Product) (orders.Product, error)
}

var DemoProducts = []orders.Product{
	{Name: "Laptop", Description: "High-performance laptop", Price: decimal.RequireFromString("999.99"), Stock: 10},
	{Name: "Mouse", Description: "Wireless mouse", Price: decimal.RequireFromString("29.99"), Stock: 50},
	{Name: "Keyboard", Description: "Mechanical keyboard", Price: decimal.RequireFromString("79.99"), Stock: 25},
	{Name: "Monitor", Description: "27-inch 4K monitor", Price: decimal.RequireFromString("399.99"), Stock: 15},
}

const (
	demoAddress = "123 Main Street, New York, NY 10001"
	demoPhone   = "+1 555-0100"
)

type Result struct {
	Products []orders.Product
	Order    orders.Summary
}

// Products ensures the demo catalog and returns the stored rows.
func Products(ctx context.Context, catalog Catalog) ([]orders.Product, error) {
	out := make([]orders.Product, 0, len(DemoProducts))
	for _, p := range DemoProducts {
		stored, err := catalog.EnsureProduct(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("seed product %s: %w", p.Name, err)
		}
		out = append(out, stored)
	}
	return out, nil
}

// Run ensures the demo products, then places 2 × Laptop and 3 × Mouse for
// userID through the regular placement flow.
func Run(ctx context.Context, catalog Catalog, svc *orders.Service, userID int64, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		res Result
		err error
	)
	if res.Products, err = Products(ctx, catalog); err != nil {
		return res, err
	}
	log.Info("products ensured", zap.Int("count", len(res.Products)))
	byName := make(map[string]orders.Product, len(res.Products))
	for _, p := range res.Products {
		byName[p.Name] = p
	}

	sum, err := svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		CustomerID: userID,
		Address:    demoAddress,
		Phone:      demoPhone,
		Lines: []orders.CartLine{
			{ProductID: byName["Laptop"].ID, Quantity: 2},
			{ProductID: byName["Mouse"].ID, Quantity: 3},
		},
	})
	if err != nil {
		return res, fmt.Errorf("seed demo order: %w", err)
	}
	res.Order = sum

	for _, it := range sum.Items {
		log.Info("demo order item",
			zap.Int64("order_id", sum.OrderID),
			zap.String("product", it.ProductName),
			zap.Int("quantity", it.Quantity),
			zap.String("price", it.Price.StringFixed(2)))
	}
	log.Info("demo order created",
		zap.Int64("order_id", sum.OrderID),
		zap.Int64("user_id", userID),
		zap.String("total", sum.Total.StringFixed(2)))
	return res, nil
}
