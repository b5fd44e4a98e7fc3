package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"

	msgInvalidData         = "The given data was invalid."
	msgIdempotencyInFlight = "A request with this Idempotency-Key is still being processed."
	maxBodyBytes           = 1 << 20
)

// Idempotency remembers which order an Idempotency-Key produced. A key is
// claimed before the order is placed, so only one request per key places.
type Idempotency interface {
	// Claim returns claimed=true when the caller owns key. Otherwise orderID
	// is the order created under key, or 0 while another request holds it.
	Claim(ctx context.Context, userID int64, key string) (orderID int64, claimed bool, err error)
	Complete(ctx context.Context, userID int64, key string, orderID int64) error
	Release(ctx context.Context, userID int64, key string) error
}

type OrdersHandler struct {
	Orders  *orders.Service
	Idem    Idempotency // optional
	Log     *zap.Logger
	Timeout time.Duration
}

// Qty max mirrors orders.MaxLineQuantity.
type orderLineRequest struct {
	ID  int64 `json:"id" validate:"required,gt=0"`
	Qty int   `json:"qty" validate:"required,min=1,max=1000"`
}

type createOrderRequest struct {
	Address string             `json:"address" validate:"required"`
	Phone   string             `json:"phone" validate:"required,max=32"`
	Items   []orderLineRequest `json:"items" validate:"required,min=1,dive"`
}

func (req createOrderRequest) lines() []orders.CartLine {
	out := make([]orders.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		out = append(out, orders.CartLine{ProductID: it.ID, Quantity: it.Qty})
	}
	return out
}

type createOrderResponse struct {
	Message string `json:"message"`
	orders.Summary
	Idempotent bool `json:"idempotent,omitempty"`
}

type message struct {
	Message string `json:"message"`
}

type validationBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

type failureBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Route("/orders", func(r chi.Router) {
		r.Use(Authenticate)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
	})
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *OrdersHandler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithTimeout(r.Context(), 5*time.Second)
	}
	return context.WithTimeout(r.Context(), h.Timeout)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, message{Message: "Invalid JSON body."})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeValidationErrors(w, err)
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()
	userID := UserID(ctx)

	var idemKey string
	if h.Idem != nil {
		idemKey = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	}
	if idemKey != "" {
		claimed, done := h.claim(ctx, w, userID, idemKey)
		if done {
			return
		}
		if !claimed {
			idemKey = ""
		}
	}

	sum, err := h.Orders.PlaceOrder(ctx, orders.PlaceOrderInput{
		CustomerID: userID,
		Address:    req.Address,
		Phone:      req.Phone,
		Lines:      req.lines(),
	})
	// The claim must settle even when the request context has expired.
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		if idemKey != "" {
			if rerr := h.Idem.Release(settleCtx, userID, idemKey); rerr != nil {
				h.log().Warn("release idempotency key failed", zap.Int64("user_id", userID), zap.Error(rerr))
			}
		}
		h.writeError(w, err, "Order creation failed", req.lines())
		return
	}

	if idemKey != "" {
		if err := h.Idem.Complete(settleCtx, userID, idemKey, sum.OrderID); err != nil {
			h.log().Warn("complete idempotency key failed", zap.Int64("order_id", sum.OrderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{Message: "Order created successfully", Summary: sum})
}

// claim reserves an Idempotency-Key before placing. done means a response was
// written: a replay of the order the key created, or 409 while another
// request holds the key. claimed=false with done=false means the idempotency
// store is unavailable and the order is placed without it.
func (h *OrdersHandler) claim(ctx context.Context, w http.ResponseWriter, userID int64, key string) (claimed, done bool) {
	for attempt := 0; attempt < 2; attempt++ {
		id, ok, err := h.Idem.Claim(ctx, userID, key)
		if err != nil {
			h.log().Warn("idempotency claim failed", zap.Int64("user_id", userID), zap.Error(err))
			return false, false
		}
		if ok {
			return true, false
		}
		if id == 0 {
			writeJSON(w, http.StatusConflict, message{Message: msgIdempotencyInFlight})
			return false, true
		}

		o, err := h.Orders.GetOrder(ctx, id)
		if errors.Is(err, orders.ErrOrderNotFound) {
			// The remembered order is gone; free the key and claim it afresh.
			if err := h.Idem.Release(ctx, userID, key); err != nil {
				h.log().Warn("release idempotency key failed", zap.Int64("user_id", userID), zap.Error(err))
				return false, false
			}
			continue
		}
		if err != nil {
			h.writeError(w, err, "Order creation failed", nil)
			return false, true
		}
		writeJSON(w, http.StatusOK, createOrderResponse{
			Message:    "Order already created",
			Summary:    orders.Summarize(o, nil),
			Idempotent: true,
		})
		return false, true
	}
	writeJSON(w, http.StatusConflict, message{Message: msgIdempotencyInFlight})
	return false, true
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx)
	if err != nil {
		h.writeError(w, err, "Failed to load orders", nil)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusNotFound, message{Message: "Order not found"})
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, err, "Failed to load order", nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	ps, err := h.Orders.ListProducts(ctx)
	if err != nil {
		h.writeError(w, err, "Failed to load products", nil)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// writeError maps service errors to responses. lines lets an unknown product
// be reported under the request field that named it.
func (h *OrdersHandler) writeError(w http.ResponseWriter, err error, failure string, lines []orders.CartLine) {
	var (
		ve *orders.ValidationError
		nf *orders.ProductNotFoundError
		is *orders.InsufficientStockError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, validationBody{
			Message: msgInvalidData,
			Errors:  map[string][]string{ve.Field: {ve.Message}},
		})
	case errors.As(err, &nf):
		key := "items"
		for i, l := range lines {
			if l.ProductID == nf.ProductID {
				key = fmt.Sprintf("items.%d.id", i)
				break
			}
		}
		writeJSON(w, http.StatusUnprocessableEntity, validationBody{
			Message: msgInvalidData,
			Errors:  map[string][]string{key: {fmt.Sprintf("The selected %s is invalid.", key)}},
		})
	case errors.As(err, &is):
		writeJSON(w, http.StatusBadRequest, message{Message: is.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, message{Message: "Order not found"})
	default:
		h.log().Error(failure, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failureBody{Message: failure, Error: err.Error()})
	}
}

func writeValidationErrors(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeJSON(w, http.StatusUnprocessableEntity, message{Message: msgInvalidData})
		return
	}
	out := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		key := fieldKey(fe.Namespace())
		out[key] = append(out[key], fieldMessage(key, fe))
	}
	writeJSON(w, http.StatusUnprocessableEntity, validationBody{Message: msgInvalidData, Errors: out})
}

var indexReplacer = strings.NewReplacer("[", ".", "]", "")

// fieldKey turns "createOrderRequest.items[0].qty" into "items.0.qty".
func fieldKey(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	}
	return indexReplacer.Replace(namespace)
}

func fieldMessage(key string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", key)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("The %s must have at least %s items.", key, fe.Param())
		}
		return fmt.Sprintf("The %s must be at least %s.", key, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("The %s may not be greater than %s characters.", key, fe.Param())
		}
		return fmt.Sprintf("The %s may not be greater than %s.", key, fe.Param())
	case "gt":
		return fmt.Sprintf("The %s must be greater than %s.", key, fe.Param())
	}
	return fmt.Sprintf("The %s is invalid.", key)
}
