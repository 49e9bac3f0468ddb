package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/catalog"
	"github.com/ariefcatur/lavanda-orders/internal/freshness"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type StockHandler struct {
	Service *stock.Service
	Catalog *catalog.Catalog   // optional; invalidated when an item changes
	Batches *freshness.Service // optional; flower deliveries open a freshness batch
}

type deliveryReq struct {
	Quantity    decimal.Decimal `json:"quantity"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
}

type deliveryResp struct {
	Item  stock.Item       `json:"item"`
	Batch *freshness.Batch `json:"batch,omitempty"`
}

type qtyReq struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type adjustReq struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
}

func (h *StockHandler) Register(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.createItem)
		r.Get("/", h.listItems)
		r.Get("/restock", h.needingRestock)
		r.Get("/stats", h.statistics)
		r.Get("/{id}", h.getItem)
		r.Get("/{id}/availability", h.availability)
		r.Post("/{id}/reserve", h.reserve)
		r.Post("/{id}/release", h.release)
		r.Post("/{id}/adjust", h.adjust)
		r.Post("/{id}/deliveries", h.delivery)
		r.Delete("/{id}", h.deactivate)
	})
	r.Get("/reservations/{orderID}", h.reservations)
}

func (h *StockHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var req stock.NewItem
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	it, err := h.Service.CreateItem(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *StockHandler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := stock.Filter{
		Kind:       stock.Kind(q.Get("kind")),
		ActiveOnly: q.Get("active") == "true",
		Search:     q.Get("q"),
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.Service.ListItems(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []stock.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *StockHandler) needingRestock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.ItemsNeedingRestock(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []stock.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *StockHandler) statistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *StockHandler) getItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Service.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *StockHandler) availability(w http.ResponseWriter, r *http.Request) {
	q, err := decimal.NewFromString(r.URL.Query().Get("quantity"))
	if err != nil {
		badRequest(w, "quantity must be a number")
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := h.Service.CheckAvailability(r.Context(), id, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "quantity": q, "available": ok})
}

// ledger runs one item operation and renders the updated item.
func (h *StockHandler) ledger(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (stock.Item, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	it, err := fn(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *StockHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req qtyReq
	if !decode(w, r, &req) {
		return
	}
	h.ledger(w, r, func(ctx context.Context, id string) (stock.Item, error) {
		return h.Service.Reserve(ctx, id, req.Quantity)
	})
}

func (h *StockHandler) release(w http.ResponseWriter, r *http.Request) {
	var req qtyReq
	if !decode(w, r, &req) {
		return
	}
	h.ledger(w, r, func(ctx context.Context, id string) (stock.Item, error) {
		return h.Service.Release(ctx, id, req.Quantity)
	})
}

func (h *StockHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustReq
	if !decode(w, r, &req) {
		return
	}
	h.ledger(w, r, func(ctx context.Context, id string) (stock.Item, error) {
		return h.Service.Adjust(ctx, id, req.Delta, req.Reason)
	})
}

func (h *StockHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.ledger(w, r, func(ctx context.Context, id string) (stock.Item, error) {
		it, err := h.Service.Deactivate(ctx, id)
		if err == nil && h.Catalog != nil {
			_ = h.Catalog.Invalidate(ctx, id)
		}
		return it, err
	})
}

// delivery books received stock and, for flowers, records the batch it came in.
func (h *StockHandler) delivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryReq
	if !decode(w, r, &req) {
		return
	}
	if !req.Quantity.IsPositive() {
		badRequest(w, "quantity must be positive")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	it, err := h.Service.Adjust(ctx, id, req.Quantity, "delivery")
	if err != nil {
		writeError(w, err)
		return
	}
	resp := deliveryResp{Item: it}
	expiry := req.ExpiryDate
	if expiry == nil {
		expiry = it.ExpiryDate
	}
	if h.Batches != nil && it.Kind == stock.KindFlower && expiry != nil {
		b, err := h.Batches.CreateForDelivery(ctx, id, int(req.Quantity.IntPart()), req.BatchNumber, *expiry)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Batch = &b
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StockHandler) reservations(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Reservations(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if res == nil {
		res = []stock.Reservation{}
	}
	writeJSON(w, http.StatusOK, res)
}
