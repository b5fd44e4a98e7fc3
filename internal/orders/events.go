package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated      = "OrderCreated"
	EventProductOutOfStock = "ProductOutOfStock"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemPrice struct {
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID int64           `json:"order_id"`
	UserID  int64           `json:"user_id"`
	Status  Status          `json:"status"`
	Items   []ItemPrice     `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

type ProductOutOfStockPayload struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	OrderID     int64  `json:"order_id"` // order that drained the stock
}

func NewOrderCreatedPayload(o Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, Price: it.Price})
	}
	return OrderCreatedPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
		Status:  o.Status,
		Items:   items,
		Total:   o.Total,
	}
}
