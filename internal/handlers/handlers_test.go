package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/handlers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
)

type api struct {
	router    *gin.Engine
	idem      *idempotency.Store
	items     *inventory.Store
	customers *customers.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := dynamotest.New().
		CreateTable("items", "item_id").
		CreateTable("customers", "customer_id").
		CreateTable("orders", "order_id").
		CreateTable("idempotency", "idempotency_key")
	itemStore := inventory.NewStore(fake, "items")
	customerStore := customers.NewStore(fake, "customers")
	idemStore := idempotency.NewStore(fake, "idempotency", time.Hour)

	ctx := context.Background()
	shirt, err := inventory.New(inventory.Shirt{}, inventory.Attributes{ID: 1, Name: "Oxford", Size: "M", Price: 100, Brand: "Acme", Stock: 5})
	require.NoError(t, err)
	suit, err := inventory.New(inventory.Trousers{}, inventory.Attributes{ID: 2, Name: "Tailored", Size: "32", Price: 40000, Brand: "Savile", Stock: 0})
	require.NoError(t, err)
	require.NoError(t, itemStore.Put(ctx, shirt))
	require.NoError(t, itemStore.Put(ctx, suit))

	vip, err := customers.New(customers.Attributes{ID: 1, Name: "Dana", PreferredSize: "M", Points: 150})
	require.NoError(t, err)
	require.NoError(t, customerStore.Put(ctx, vip))

	catalog := inventory.NewCatalog()
	svc := orders.NewService(orders.NewStore(fake, "orders"), itemStore, customerStore, catalog,
		orders.WithIdempotency(idemStore))

	r := gin.New()
	r.Use(handlers.Correlation())
	handlers.RegisterOrdersRoutes(r, handlers.HandlerConfig{Orders: svc, Idempotency: idemStore})
	handlers.RegisterCatalogRoutes(r, handlers.CatalogConfig{Catalog: catalog, Items: itemStore, Customers: customerStore})

	return &api{router: r, idem: idemStore, items: itemStore, customers: customerStore}
}

func (a *api) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func createBody() map[string]interface{} {
	return map[string]interface{}{
		"customer_id": 1,
		"items": []map[string]int{
			{"item_id": 1, "quantity": 3},
			{"item_id": 2, "quantity": 1},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/orders", createBody(), map[string]string{"Idempotency-Key": "k1", "X-Request-Id": "req-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/orders/1", rec.Header().Get("Location"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))

	out := decode(t, rec)
	order := out["order"].(map[string]interface{})
	assert.Equal(t, 300.0, order["total"])
	assert.Equal(t, 0.10, order["discount_rate"], "discount is reported, not applied")
	assert.Equal(t, "PENDING", order["status"])
	assert.Len(t, order["lines"], 1)
	assert.Len(t, out["rejected"], 1)

	idem, err := a.idem.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, idem.Status)
	assert.Equal(t, http.StatusCreated, idem.ResponseStatus)
}

func TestCreateOrder_ReplaysDuplicateKey(t *testing.T) {
	a := newAPI(t)
	headers := map[string]string{"Idempotency-Key": "k1"}

	first := a.do(t, http.MethodPost, "/orders", createBody(), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := a.do(t, http.MethodPost, "/orders", createBody(), headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	item, err := a.items.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Stock(), "the replay reserved nothing")
}

func TestCreateOrder_RequestErrors(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/orders", createBody(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_idempotency_key", decode(t, rec)["error"])

	rec = a.do(t, http.MethodPost, "/orders", map[string]interface{}{"customer_id": 0}, map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode(t, rec)["error"])

	rec = a.do(t, http.MethodPost, "/orders", map[string]interface{}{"customer_id": 9}, map[string]string{"Idempotency-Key": "k2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderLifecycle(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/orders", map[string]interface{}{"customer_id": 1}, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders/1/items", map[string]int{"item_id": 1, "quantity": 5}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["added"])

	rec = a.do(t, http.MethodPost, "/orders/1/items", map[string]int{"item_id": 1, "quantity": 1}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["added"])
	assert.Equal(t, "insufficient_stock", out["error"])

	rec = a.do(t, http.MethodGet, "/items/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode(t, rec)["stock"])

	rec = a.do(t, http.MethodPost, "/orders/1/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["status"])

	rec = a.do(t, http.MethodPost, "/orders/1/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_operation", decode(t, rec)["error"])

	rec = a.do(t, http.MethodGet, "/items/1", nil, nil)
	assert.Equal(t, 5.0, decode(t, rec)["stock"])
}

func TestCompleteEmptyOrder(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/orders", map[string]interface{}{"customer_id": 1}, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders/1/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/orders/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", decode(t, rec)["status"])
}

func TestGetOrder_NotFoundAndBadID(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/orders/42", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/orders/abc", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/orders/0", nil, nil).Code)
}

func TestCatalogRoutes(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/items/2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item := decode(t, rec)
	assert.Equal(t, "Trousers", item["type"])
	assert.Equal(t, true, item["premium"])
	assert.Equal(t, false, item["in_stock"])
	assert.Equal(t, inventory.Trousers{}.CareInstructions(), item["care_instructions"])

	rec = a.do(t, http.MethodGet, "/customers/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	customer := decode(t, rec)
	assert.Equal(t, true, customer["vip"])
	assert.Equal(t, "Customer#1 Dana | preferredSize=M | points=150", customer["profile"])

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/items/99", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/customers/99", nil, nil).Code)
}

func TestListCustomers(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()
	regular, err := customers.New(customers.Attributes{ID: 3, Name: "Ermek", PreferredSize: "L", Points: 20})
	require.NoError(t, err)
	require.NoError(t, a.customers.Put(ctx, regular))

	rec := a.do(t, http.MethodGet, "/customers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, 1.0, out[0]["customer_id"])
	assert.Equal(t, true, out[0]["vip"])
	assert.Equal(t, 3.0, out[1]["customer_id"])
	assert.Equal(t, 0.0, out[1]["discount_rate"])
}

func TestGetItem_ReportsStoredStock(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()

	rec := a.do(t, http.MethodGet, "/items/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5.0, decode(t, rec)["stock"])

	// another instance sells two shirts
	_, ok, err := a.items.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)

	rec = a.do(t, http.MethodGet, "/items/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, decode(t, rec)["stock"])
}

func TestGetOrder_ReportsCurrentDiscount(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()
	regular, err := customers.New(customers.Attributes{ID: 3, Name: "Ermek", PreferredSize: "L", Points: 20})
	require.NoError(t, err)
	require.NoError(t, a.customers.Put(ctx, regular))

	rec := a.do(t, http.MethodPost, "/orders", map[string]interface{}{"customer_id": 3}, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/orders/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode(t, rec)["discount_rate"])

	require.NoError(t, a.customers.SavePoints(ctx, 3, 20, 120))

	rec = a.do(t, http.MethodGet, "/orders/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.1, decode(t, rec)["discount_rate"])
}
