package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const UnknownProductName = "Unknown Product"

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p Product) OutOfStock() bool { return p.Stock == 0 }

// MarshalJSON appends the computed out_of_stock flag.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		OutOfStock bool `json:"out_of_stock"`
	}{plain(p), p.OutOfStock()})
}

type Order struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Address   string          `json:"address"`
	Phone     string          `json:"phone"`
	Total     decimal.Decimal `json:"total"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Items     []OrderItem     `json:"items"`
}

// OrderItem keeps the unit price captured when the order was placed.
// Product is the live catalog row, nil once the product is gone.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Product   *Product        `json:"product"`
}

func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// CartLine is one {product, quantity} pair of a placement request.
type CartLine struct {
	ProductID int64
	Quantity  int
}

type PlaceOrderInput struct {
	CustomerID int64
	Address    string
	Phone      string
	Lines      []CartLine
}

type SummaryItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Summary struct {
	OrderID    int64           `json:"order_id"`
	Total      decimal.Decimal `json:"total"`
	ItemsCount int             `json:"items_count"`
	Items      []SummaryItem   `json:"items"`
}

// Summarize builds the placement response for o. names is consulted when an
// item carries no joined product.
func Summarize(o Order, names map[int64]string) Summary {
	s := Summary{
		OrderID:    o.ID,
		Total:      o.Total,
		ItemsCount: len(o.Items),
		Items:      make([]SummaryItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		name := ""
		if it.Product != nil {
			name = it.Product.Name
		} else if names != nil {
			name = names[it.ProductID]
		}
		if name == "" {
			name = UnknownProductName
		}
		s.Items = append(s.Items, SummaryItem{
			ProductID:   it.ProductID,
			ProductName: name,
			Quantity:    it.Quantity,
			Price:       it.Price,
			Subtotal:    it.Subtotal(),
		})
	}
	return s
}
