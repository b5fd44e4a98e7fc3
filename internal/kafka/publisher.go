package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/segmentio/kafka-go"
)

// Sink is where envelopes end up; *Producer in production.
type Sink interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

var _ orders.Publisher = (*OrderPublisher)(nil)

// OrderPublisher emits OrderCreated envelopes keyed by order id.
type OrderPublisher struct {
	Sink    Sink
	Service string
}

func (p *OrderPublisher) PublishOrderCreated(ctx context.Context, o orders.Order) error {
	env, err := NewEnvelope(orders.EventOrderCreated, p.Service, strconv.FormatInt(o.ID, 10), orders.NewOrderCreatedPayload(o))
	if err != nil {
		return err
	}
	// Request id of the HTTP call that placed the order, when there was one.
	env.TraceID = middleware.GetReqID(ctx)
	return publish(ctx, p.Sink, orders.PartitionKey(o.ID), env)
}

// publish sends an already built envelope under key.
func publish(ctx context.Context, sink Sink, key []byte, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := sink.Publish(ctx, key, b, EnvelopeHeaders(env)...); err != nil {
		return fmt.Errorf("publish %s: %w", env.EventType, err)
	}
	return nil
}

// OutOfStockPublisher emits ProductOutOfStock envelopes keyed by product id.
type OutOfStockPublisher struct {
	Sink    Sink
	Service string
}

func (p *OutOfStockPublisher) PublishOutOfStock(ctx context.Context, ev orders.ProductOutOfStockPayload, traceID string) error {
	env, err := NewEnvelope(orders.EventProductOutOfStock, p.Service, strconv.FormatInt(ev.OrderID, 10), ev)
	if err != nil {
		return err
	}
	env.TraceID = traceID
	return publish(ctx, p.Sink, orders.PartitionKey(ev.ProductID), env)
}
