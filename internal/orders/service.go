package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 1000

// maxOrderTotal is the largest value orders.total NUMERIC(14,2) can hold.
var maxOrderTotal = decimal.RequireFromString("999999999999.99")

// Service owns order placement and the order read path. Cache and Events are
// optional; Logger defaults to a no-op logger.
type Service struct {
	Store           Store
	Cache           Cache
	Events          Publisher
	Logger          *zap.Logger
	DeadlockRetries int
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// PlaceOrder locks and decrements stock for every cart line, then writes the
// order and its items, all in one transaction. It returns exactly one of a
// Summary, *ValidationError, *ProductNotFoundError, *InsufficientStockError
// or *StorageError; nothing is left behind on failure.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (Summary, error) {
	start := time.Now()

	if err := validate(in); err != nil {
		metrics.ObservePlacement(metrics.OutcomeInvalid, start)
		return Summary{}, err
	}

	var (
		order Order
		names map[int64]string
		err   error
	)
	for attempt := 0; ; attempt++ {
		order, names, err = s.place(ctx, in)
		if err == nil || !errors.Is(err, ErrDeadlock) || attempt >= s.DeadlockRetries {
			break
		}
		metrics.DeadlockRetries.Inc()
		s.log().Warn("placement deadlocked, retrying",
			zap.Int64("user_id", in.CustomerID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	if err != nil {
		err = classify(err)
		metrics.ObservePlacement(outcomeOf(err), start)
		s.log().Info("order rejected",
			zap.Int64("user_id", in.CustomerID),
			zap.Error(err))
		return Summary{}, err
	}
	metrics.ObservePlacement(metrics.OutcomeCreated, start)

	// Reload like a fresh read would; the commit already happened, so a failed
	// reload only downgrades to what we hold in memory.
	if stored, rerr := s.Store.GetOrder(ctx, order.ID); rerr == nil {
		order = stored
	} else {
		s.log().Warn("reload after commit failed, using in-memory order",
			zap.Int64("order_id", order.ID),
			zap.Error(rerr))
	}

	s.afterCommit(ctx, order)

	s.log().Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.Total.String()),
		zap.Int("items", len(order.Items)))

	return Summarize(order, names), nil
}

func (s *Service) place(ctx context.Context, in PlaceOrderInput) (Order, map[int64]string, error) {
	var (
		order Order
		names = make(map[int64]string, len(in.Lines))
	)

	err := s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		// Lock in product id order so two placements over the same products
		// always queue instead of deadlocking.
		lockOrder := make([]int, len(in.Lines))
		for i := range lockOrder {
			lockOrder[i] = i
		}
		slices.SortStableFunc(lockOrder, func(a, b int) int {
			pa, pb := in.Lines[a].ProductID, in.Lines[b].ProductID
			switch {
			case pa < pb:
				return -1
			case pa > pb:
				return 1
			}
			return 0
		})

		locked := make(map[int64]Product, len(in.Lines))
		for _, i := range lockOrder {
			line := in.Lines[i]
			p, ok := locked[line.ProductID]
			if !ok {
				var err error
				if p, err = tx.LockProduct(ctx, line.ProductID); err != nil {
					return err
				}
			}
			if p.Stock < line.Quantity {
				return &InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   line.Quantity,
					Available:   p.Stock,
				}
			}
			p.Stock -= line.Quantity
			if err := tx.SetStock(ctx, p.ID, p.Stock); err != nil {
				return fmt.Errorf("decrement stock of product %d: %w", p.ID, err)
			}
			locked[p.ID] = p
			names[p.ID] = p.Name
		}

		total := decimal.Zero
		items := make([]OrderItem, 0, len(in.Lines))
		for _, line := range in.Lines {
			p := locked[line.ProductID]
			it := OrderItem{ProductID: p.ID, Quantity: line.Quantity, Price: p.Price}
			total = total.Add(it.Subtotal())
			items = append(items, it)
		}
		if total.GreaterThan(maxOrderTotal) {
			return &ValidationError{Field: "items", Message: "order total exceeds " + maxOrderTotal.StringFixed(2)}
		}

		order = Order{
			UserID:  in.CustomerID,
			Address: in.Address,
			Phone:   in.Phone,
			Total:   total,
			Status:  StatusPending,
		}
		if err := tx.CreateOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.CreateOrderItem(ctx, &items[i]); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		order.Items = items
		return nil
	})
	return order, names, err
}

func (s *Service) afterCommit(ctx context.Context, o Order) {
	if s.Cache != nil {
		if err := s.Cache.SetOrder(ctx, o); err != nil {
			s.log().Warn("cache order failed", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}
	if s.Events != nil {
		if err := s.Events.PublishOrderCreated(ctx, o); err != nil {
			s.log().Error("publish order created failed", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}
}

func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	return s.Store.ListOrders(ctx)
}

// GetOrder reads through the cache when one is configured; a cache error
// falls back to the store. Cached orders get their products joined from the
// store on every hit.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	if s.Cache != nil {
		o, err := s.Cache.GetOrder(ctx, id)
		switch {
		case err != nil:
			s.log().Warn("cache get failed", zap.Int64("order_id", id), zap.Error(err))
		case o != nil:
			if err := s.joinProducts(ctx, o); err != nil {
				return Order{}, err
			}
			return *o, nil
		}
	}

	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if s.Cache != nil {
		if err := s.Cache.SetOrder(ctx, o); err != nil {
			s.log().Warn("cache order failed", zap.Int64("order_id", id), zap.Error(err))
		}
	}
	return o, nil
}

func (s *Service) joinProducts(ctx context.Context, o *Order) error {
	if len(o.Items) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Store.ProductsByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("join products of order %d: %w", o.ID, err)
	}
	items := make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Product = nil
		if p, ok := products[it.ProductID]; ok {
			it.Product = &p
		}
		items[i] = it
	}
	o.Items = items
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

func validate(in PlaceOrderInput) error {
	if in.CustomerID <= 0 {
		return &ValidationError{Field: "user_id", Message: "an authenticated customer is required"}
	}
	if strings.TrimSpace(in.Address) == "" {
		return &ValidationError{Field: "address", Message: "address is required"}
	}
	if strings.TrimSpace(in.Phone) == "" {
		return &ValidationError{Field: "phone", Message: "phone is required"}
	}
	if len(in.Lines) == 0 {
		return &ValidationError{Field: "items", Message: "at least one item is required"}
	}
	for i, l := range in.Lines {
		if l.ProductID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items.%d.id", i), Message: "product id is required"}
		}
		if l.Quantity < 1 {
			return &ValidationError{Field: fmt.Sprintf("items.%d.qty", i), Message: "quantity must be at least 1"}
		}
		if l.Quantity > MaxLineQuantity {
			return &ValidationError{Field: fmt.Sprintf("items.%d.qty", i), Message: fmt.Sprintf("quantity may not be greater than %d", MaxLineQuantity)}
		}
	}
	return nil
}

// classify keeps the domain rejections as they are and folds everything else
// into a StorageError.
func classify(err error) error {
	var (
		ve *ValidationError
		nf *ProductNotFoundError
		is *InsufficientStockError
		se *StorageError
	)
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &is) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Err: err}
}

func outcomeOf(err error) string {
	var (
		ve *ValidationError
		nf *ProductNotFoundError
		is *InsufficientStockError
	)
	switch {
	case errors.As(err, &ve):
		return metrics.OutcomeInvalid
	case errors.As(err, &nf):
		return metrics.OutcomeProductNotFound
	case errors.As(err, &is):
		return metrics.OutcomeInsufficientStock
	}
	return metrics.OutcomeStorageError
}
