package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/memstore"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]int64 // 0 marks a pending claim
}

func (m *memIdempotency) Claim(ctx context.Context, userID int64, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]int64)
	}
	k := fmt.Sprintf("%d:%s", userID, key)
	if id, ok := m.keys[k]; ok {
		return id, false, nil
	}
	m.keys[k] = 0
	return 0, true, nil
}

func (m *memIdempotency) Complete(ctx context.Context, userID int64, key string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[fmt.Sprintf("%d:%s", userID, key)] = orderID
	return nil
}

func (m *memIdempotency) Release(ctx context.Context, userID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, fmt.Sprintf("%d:%s", userID, key))
	return nil
}

// gatedStore parks every transaction until release is closed.
type gatedStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.InTx(ctx, fn)
}

type fixture struct {
	store  *memstore.Store
	router http.Handler
	laptop orders.Product
	mouse  orders.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	laptop, err := store.EnsureProduct(ctx, orders.Product{Name: "Laptop", Price: decimal.RequireFromString("999.99"), Stock: 10})
	require.NoError(t, err)
	mouse, err := store.EnsureProduct(ctx, orders.Product{Name: "Mouse", Price: decimal.RequireFromString("29.99"), Stock: 0})
	require.NoError(t, err)

	r := NewRouter("order-api-test", nil)
	h := &OrdersHandler{Orders: &orders.Service{Store: store}, Idem: &memIdempotency{}}
	h.Register(r)
	return &fixture{store: store, router: r, laptop: laptop, mouse: mouse}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

var authed = map[string]string{HeaderUserID: "7"}

func orderBody(lines ...map[string]any) map[string]any {
	return map[string]any{
		"address": "123 Main Street, New York, NY 10001",
		"phone":   "+1 555-0100",
		"items":   lines,
	}
}

func line(id int64, qty int) map[string]any { return map[string]any{"id": id, "qty": qty} }

func TestCreateOrder_Created(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 2)), authed)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Order created successfully", body["message"])
	assert.Equal(t, "1999.98", body["total"])
	assert.EqualValues(t, 1, body["items_count"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Laptop", item["product_name"])
	assert.Equal(t, "1999.98", item["subtotal"])

	p, err := f.store.GetProduct(context.Background(), f.laptop.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Stock)
}

func TestCreateOrder_RequiresUser(t *testing.T) {
	f := newFixture(t)
	for _, hdr := range []map[string]string{nil, {HeaderUserID: "abc"}, {HeaderUserID: "0"}} {
		w, body := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), hdr)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Unauthenticated.", body["message"])
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 11)), authed)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Product Laptop is out of stock", body["message"])
	p, err := f.store.GetProduct(context.Background(), f.laptop.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}

func TestCreateOrder_UnprocessableBodies(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		body     map[string]any
		errorKey string
	}{
		{"missing address", map[string]any{"phone": "1", "items": []any{line(f.laptop.ID, 1)}}, "address"},
		{"blank address", map[string]any{"address": "   ", "phone": "1", "items": []any{line(f.laptop.ID, 1)}}, "address"},
		{"empty items", orderBody(), "items"},
		{"zero qty", orderBody(line(f.laptop.ID, 1), line(f.laptop.ID, 0)), "items.1.qty"},
		{"unknown product", orderBody(line(f.laptop.ID, 1), line(4242, 1)), "items.1.id"},
		{"qty over the line cap", orderBody(line(f.laptop.ID, orders.MaxLineQuantity+1)), "items.0.qty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := f.do(t, http.MethodPost, "/orders", tt.body, authed)

			require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
			assert.Equal(t, msgInvalidData, body["message"])
			errs, ok := body["errors"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, errs, tt.errorKey)
		})
	}
}

func TestCreateOrder_InvalidJSON(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodPost, "/orders", "{not json", authed)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	hdr := map[string]string{HeaderUserID: "7", HeaderIdempotencyKey: "abc-123"}

	w1, first := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), hdr)
	require.Equal(t, http.StatusCreated, w1.Code)

	w2, second := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), hdr)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, true, second["idempotent"])
	assert.Equal(t, first["order_id"], second["order_id"])

	p, err := f.store.GetProduct(context.Background(), f.laptop.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, p.Stock, "replay must not place a second order")

	// Another user with the same key places a fresh order.
	w3, third := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)),
		map[string]string{HeaderUserID: "8", HeaderIdempotencyKey: "abc-123"})
	require.Equal(t, http.StatusCreated, w3.Code)
	assert.NotEqual(t, first["order_id"], third["order_id"])
}

func TestCreateOrder_ConcurrentSameIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	gate := &gatedStore{Store: f.store, entered: make(chan struct{}, 2), release: make(chan struct{})}
	r := NewRouter("order-api-test", nil)
	(&OrdersHandler{Orders: &orders.Service{Store: gate}, Idem: &memIdempotency{}}).Register(r)
	f.router = r
	hdr := map[string]string{HeaderUserID: "7", HeaderIdempotencyKey: "retry-1"}

	payload, err := json.Marshal(orderBody(line(f.laptop.ID, 1)))
	require.NoError(t, err)
	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		first <- w
	}()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the store")
	}

	// The first request holds the key inside its transaction.
	w2, second := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), hdr)
	assert.Equal(t, http.StatusConflict, w2.Code, w2.Body.String())
	assert.Equal(t, msgIdempotencyInFlight, second["message"])

	close(gate.release)
	w1 := <-first
	require.Equal(t, http.StatusCreated, w1.Code, w1.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &created))

	w3, third := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), hdr)
	require.Equal(t, http.StatusOK, w3.Code)
	assert.Equal(t, true, third["idempotent"])
	assert.Equal(t, created["order_id"], third["order_id"])

	assert.Len(t, gate.entered, 0, "only the first request placed an order")
	p, err := f.store.GetProduct(context.Background(), f.laptop.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, p.Stock)
	list, err := f.store.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateOrder_FailedPlacementFreesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	hdr := map[string]string{HeaderUserID: "7", HeaderIdempotencyKey: "after-restock"}

	w1, _ := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 11)), hdr)
	require.Equal(t, http.StatusBadRequest, w1.Code)

	w2, body := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), hdr)
	require.Equal(t, http.StatusCreated, w2.Code, w2.Body.String())
	assert.Nil(t, body["idempotent"])
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	_, created := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 2)), authed)
	id := int64(created["order_id"].(float64))

	w, body := f.do(t, http.MethodGet, fmt.Sprintf("/orders/%d", id), nil, authed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "1999.98", body["total"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	product := items[0].(map[string]any)["product"].(map[string]any)
	assert.Equal(t, "Laptop", product["name"])

	for _, path := range []string{"/orders/999999", "/orders/abc"} {
		w, body := f.do(t, http.MethodGet, path, nil, authed)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "Order not found", body["message"])
	}
}

func TestListOrders_NewestFirst(t *testing.T) {
	f := newFixture(t)
	var ids []float64
	for i := 0; i < 2; i++ {
		_, created := f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), authed)
		ids = append(ids, created["order_id"].(float64))
	}

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderUserID, "7")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0]["id"])
	assert.Equal(t, ids[0], list[1]["id"])
}

func TestListProducts_OutOfStockFlag(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, false, list[0]["out_of_stock"])
	assert.Equal(t, true, list[1]["out_of_stock"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	f.do(t, http.MethodPost, "/orders", orderBody(line(f.laptop.ID, 1)), authed)
	w, _ = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orders_placements_total")
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestFieldKey(t *testing.T) {
	assert.Equal(t, "items.0.qty", fieldKey("createOrderRequest.items[0].qty"))
	assert.Equal(t, "address", fieldKey("createOrderRequest.address"))
}
