// Package stockwatch turns OrderCreated events into ProductOutOfStock
// notifications for products the order drained.
package stockwatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/metrics"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (orders.Product, error)
}

// Deduper records processed event ids.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Notifier interface {
	PublishOutOfStock(ctx context.Context, ev orders.ProductOutOfStockPayload, traceID string) error
}

type Service struct {
	Products ProductReader
	Dedup    Deduper // optional
	Notify   Notifier
	Log      *zap.Logger
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// HandleOrderCreated is the consumer handler for order.created.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// Undecodable messages never get better; commit past them.
		s.log().Warn("skip undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			s.log().Debug("duplicate event", zap.String("event_id", env.EventID))
			return nil
		}
	}

	if err := s.check(ctx, env); err != nil {
		if s.Dedup != nil {
			if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
				s.log().Warn("release dedup mark failed", zap.String("event_id", env.EventID), zap.Error(ferr))
			}
		}
		return err
	}
	return nil
}

func (s *Service) check(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		s.log().Warn("skip event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	checked := make(map[int64]bool, len(p.Items))
	for _, it := range p.Items {
		if checked[it.ProductID] {
			continue
		}
		checked[it.ProductID] = true

		prod, err := s.Products.GetProduct(ctx, it.ProductID)
		var nf *orders.ProductNotFoundError
		if errors.As(err, &nf) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read product %d: %w", it.ProductID, err)
		}
		if !prod.OutOfStock() {
			continue
		}

		ev := orders.ProductOutOfStockPayload{ProductID: prod.ID, ProductName: prod.Name, OrderID: p.OrderID}
		if err := s.Notify.PublishOutOfStock(ctx, ev, env.TraceID); err != nil {
			return err
		}
		metrics.OutOfStockTotal.WithLabelValues(strconv.FormatInt(prod.ID, 10)).Inc()
		s.log().Info("product out of stock",
			zap.Int64("product_id", prod.ID),
			zap.String("product", prod.Name),
			zap.Int64("order_id", p.OrderID))
	}
	return nil
}
