package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/lavanda-orders/internal/catalog"
	"github.com/ariefcatur/lavanda-orders/internal/freshness"
	"github.com/ariefcatur/lavanda-orders/internal/orders"
	"github.com/ariefcatur/lavanda-orders/internal/redisx"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

type env struct {
	srv   *httptest.Server
	stock *stock.Service
}

func setup(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return today }

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())

	st := stock.NewService(stock.NewMemoryStore(), logger)
	st.Now = now
	cat := &catalog.Catalog{Source: st, Redis: rdb, Logger: logger}
	ord := &orders.Service{
		Store:       orders.NewMemoryStore(),
		Catalog:     cat,
		Cache:       &orders.Cache{Redis: rdb},
		ServiceName: "order-api",
		Logger:      logger,
		Now:         now,
	}
	fr := &freshness.Service{Store: freshness.NewMemoryStore(), Items: st, Logger: logger, Now: now}

	srv := httptest.NewServer(NewHandler("order-api",
		&OrdersHandler{Service: ord, Now: now},
		&StockHandler{Service: st, Catalog: cat, Batches: fr},
		&FreshnessHandler{Service: fr, RetentionDays: 30},
	))
	t.Cleanup(srv.Close)
	return &env{srv: srv, stock: st}
}

func (e *env) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (e *env) rose(t *testing.T) stock.Item {
	t.Helper()
	var it stock.Item
	code := e.do(t, http.MethodPost, "/items", map[string]any{
		"sku": "ROSE-RED", "name": "Red rose", "kind": "FLOWER", "unit_price": "120.00", "quantity": "10",
	}, &it)
	require.Equal(t, http.StatusCreated, code)
	return it
}

func TestHealthz(t *testing.T) {
	e := setup(t)
	res, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	e := setup(t)
	rose := e.rose(t)

	create := map[string]any{
		"external_id":   "shop-42",
		"customer_name": "Dewi",
		"items":         []map[string]any{{"product_id": rose.ID, "quantity": "3"}},
	}
	var first CreateOrderResp
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/orders", create, &first))
	assert.Equal(t, orders.StatusNew, first.Order.Status)
	assert.Equal(t, "360", first.Order.FinalAmount.String())

	var again CreateOrderResp
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/orders", create, &again))
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Order.ID, again.Order.ID)

	id := first.Order.ID
	var errBody errorBody
	code := e.do(t, http.MethodPost, "/orders/"+id+"/status", statusReq{Status: "DELIVERED"}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", errBody.Code)

	var o orders.Order
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/orders/"+id+"/status", statusReq{Status: "confirmed"}, &o))
	assert.Equal(t, orders.StatusConfirmed, o.Status)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/orders/"+id+"/florist", floristReq{FloristID: "f-1"}, &o))
	assert.Equal(t, orders.StatusInProgress, o.Status)

	var status map[string]string
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/orders/"+id+"/status", nil, &status))
	assert.Equal(t, "IN_PROGRESS", status["status"])

	var mine []orders.Order
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/orders/florist/f-1", nil, &mine))
	assert.Len(t, mine, 1)

	code = e.do(t, http.MethodPut, "/orders/"+id+"/items", itemsReq{Items: []orders.ItemInput{}}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)

	code = e.do(t, http.MethodDelete, "/orders/"+id, nil, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "OPERATION_NOT_ALLOWED", errBody.Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/orders/"+id+"/cancel", cancelReq{Reason: "customer called"}, &o))
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Contains(t, o.Notes, "Cancellation reason: customer called")

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/orders/"+id, nil, nil))
	code = e.do(t, http.MethodGet, "/orders/"+id, nil, &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errBody.Code)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	e := setup(t)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/orders", bytes.NewBufferString("{"))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var errBody errorBody
	code := e.do(t, http.MethodPost, "/orders", map[string]any{"customer_name": "A", "items": []any{}}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION", errBody.Code)

	code = e.do(t, http.MethodPost, "/orders", map[string]any{
		"customer_name": "A",
		"items":         []map[string]any{{"product_id": "nope", "quantity": "1"}},
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)

	code = e.do(t, http.MethodGet, "/orders?status=shipped", nil, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStockLedgerOverHTTP(t *testing.T) {
	e := setup(t)
	rose := e.rose(t)
	path := "/items/" + rose.ID

	var it stock.Item
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, path+"/reserve", qtyReq{Quantity: decimal.NewFromInt(4)}, &it))
	assert.Equal(t, "4", it.Reserved.String())

	var errBody errorBody
	code := e.do(t, http.MethodPost, path+"/reserve", qtyReq{Quantity: decimal.NewFromInt(7)}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INSUFFICIENT_STOCK", errBody.Code)

	code = e.do(t, http.MethodPost, path+"/release", qtyReq{Quantity: decimal.NewFromInt(5)}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "OVER_RELEASE", errBody.Code)

	code = e.do(t, http.MethodPost, path+"/adjust", adjustReq{Delta: decimal.NewFromInt(-7), Reason: "wilted"}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NEGATIVE_STOCK", errBody.Code)

	code = e.do(t, http.MethodPost, path+"/reserve", qtyReq{Quantity: decimal.RequireFromString("1.5")}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, path+"/adjust", adjustReq{Delta: decimal.NewFromInt(5), Reason: "delivery"}, &it))
	assert.Equal(t, "15", it.Current.String())
	assert.Equal(t, "11", it.Available().String())

	var avail map[string]any
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, path+"/availability?quantity=11", nil, &avail))
	assert.Equal(t, true, avail["available"])

	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, path, nil, &it))
	assert.False(t, it.Active)

	var items []stock.Item
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/items?active=true", nil, &items))
	assert.Empty(t, items)

	code = e.do(t, http.MethodGet, "/items/missing", nil, &errBody)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBatchesOverHTTP(t *testing.T) {
	e := setup(t)
	rose := e.rose(t)

	var b freshness.Batch
	code := e.do(t, http.MethodPost, "/batches", map[string]any{
		"item_id": rose.ID, "batch_number": "B-1", "quantity": 20, "expiry_date": today.Format(time.RFC3339),
	}, &b)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, freshness.StatusExpiresToday, b.Status)
	require.NotNil(t, b.Discount)
	assert.Equal(t, 70, *b.Discount)

	var list []freshness.Batch
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/batches/expiring-today", nil, &list))
	assert.Len(t, list, 1)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/batches?status=expires_today", nil, &list))
	assert.Len(t, list, 1)

	var errBody errorBody
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/batches?status=wilted", nil, &errBody))
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/batches", nil, &errBody))

	code = e.do(t, http.MethodPost, "/batches/"+b.ID+"/discount", batchDiscountReq{Percentage: 150}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/batches/"+b.ID+"/discount", batchDiscountReq{Percentage: 80}, &b))
	assert.Equal(t, 80, *b.Discount)
	assert.True(t, b.DiscountExplicit)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/batches/"+b.ID+"/sold", soldReq{}, &b))
	assert.True(t, b.Sold)

	var st freshness.Stats
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/batches/stats", nil, &st))
	assert.Equal(t, 1, st.Sold)

	code = e.do(t, http.MethodGet, "/batches/missing", nil, &errBody)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFlowerDeliveryOpensBatch(t *testing.T) {
	e := setup(t)
	var tulip stock.Item
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/items", map[string]any{
		"sku": "TULIP", "name": "Tulip", "kind": "FLOWER", "quantity": "0", "freshness_days": 5,
	}, &tulip))

	var resp deliveryResp
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/items/"+tulip.ID+"/deliveries",
		deliveryReq{Quantity: decimal.NewFromInt(25), BatchNumber: "D-7"}, &resp))
	assert.Equal(t, "25", resp.Item.Current.String())
	require.NotNil(t, resp.Batch)
	assert.Equal(t, 25, resp.Batch.Quantity)
	assert.Equal(t, freshness.StatusFresh, resp.Batch.Status)
	require.NotNil(t, resp.Batch.ExpiryDate)
	assert.Equal(t, "2024-05-25", resp.Batch.ExpiryDate.Format(dateLayout))

	var res []stock.Reservation
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/reservations/unknown-order", nil, &res))
	assert.Empty(t, res)
}
