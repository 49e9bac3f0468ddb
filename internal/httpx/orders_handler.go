package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrdersHandler struct {
	Service *orders.Service
	Now     func() time.Time
}

type CreateOrderResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent"`
}

type statusReq struct {
	Status string `json:"status"`
}

type floristReq struct {
	FloristID string `json:"florist_id"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type discountReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type itemsReq struct {
	Items []orders.ItemInput `json:"items"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/processing", h.requiringProcessing)
		r.Get("/ready", h.readyForDelivery)
		r.Get("/overdue", h.overdue)
		r.Get("/stats", h.statistics)
		r.Get("/florist/{id}", h.activeForFlorist)
		r.Get("/number/{number}", h.getByNumber)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getStatus)
		r.Post("/{id}/status", h.transition)
		r.Post("/{id}/florist", h.assignFlorist)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/discount", h.setDiscount)
		r.Post("/{id}/recalculate", h.recalculate)
		r.Put("/{id}/items", h.updateItems)
		r.Delete("/{id}", h.deleteOrder)
	})
}

func (h *OrdersHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateInput
	if !decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, orders.ErrEmptyOrder)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, existed, err := h.Service.Create(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: o, Idempotent: existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetByNumber(ctx, chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus is the cheap path polled by storefronts; it reads through Redis.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	st, err := h.Service.GetStatus(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": string(st), "label": orders.Label(st)})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.Filter{
		CustomerPhone: q.Get("phone"),
		CustomerEmail: q.Get("email"),
		FloristID:     q.Get("florist_id"),
		Search:        q.Get("q"),
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st, ok := orders.ParseStatus(s)
			if !ok {
				badRequest(w, "unknown status "+s)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	var err error
	if f.CreatedFrom, err = queryDate(r, "from"); err != nil {
		badRequest(w, "from must be YYYY-MM-DD")
		return
	}
	if f.CreatedTo, err = queryDate(r, "to"); err != nil {
		badRequest(w, "to must be YYYY-MM-DD")
		return
	}
	if f.DeliveryDay, err = queryDate(r, "delivery_date"); err != nil {
		badRequest(w, "delivery_date must be YYYY-MM-DD")
		return
	}
	if f.Limit, err = queryInt(r, "limit", 0); err != nil || f.Limit < 0 {
		badRequest(w, "limit must be a non-negative integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	h.list(w, func() ([]orders.Order, error) { return h.Service.List(ctx, f) })
}

func (h *OrdersHandler) list(w http.ResponseWriter, fn func() ([]orders.Order, error)) {
	out, err := fn()
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) requiringProcessing(w http.ResponseWriter, r *http.Request) {
	h.list(w, func() ([]orders.Order, error) { return h.Service.RequiringProcessing(r.Context()) })
}

func (h *OrdersHandler) readyForDelivery(w http.ResponseWriter, r *http.Request) {
	h.list(w, func() ([]orders.Order, error) { return h.Service.ReadyForDelivery(r.Context()) })
}

func (h *OrdersHandler) overdue(w http.ResponseWriter, r *http.Request) {
	h.list(w, func() ([]orders.Order, error) { return h.Service.Overdue(r.Context(), h.now()) })
}

func (h *OrdersHandler) activeForFlorist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.list(w, func() ([]orders.Order, error) { return h.Service.ActiveForFlorist(r.Context(), id) })
}

func (h *OrdersHandler) statistics(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil {
		badRequest(w, "from must be YYYY-MM-DD")
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		badRequest(w, "to must be YYYY-MM-DD")
		return
	}
	var start time.Time
	end := h.now()
	if from != nil {
		start = *from
	}
	if to != nil {
		end = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := h.Service.Statistics(ctx, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// mutation runs a single-order write and renders the updated order.
func (h *OrdersHandler) mutation(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (orders.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := fn(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if !decode(w, r, &req) {
		return
	}
	to, ok := orders.ParseStatus(req.Status)
	if !ok {
		badRequest(w, "unknown status "+req.Status)
		return
	}
	h.mutation(w, r, func(ctx context.Context, id string) (orders.Order, error) {
		return h.Service.Transition(ctx, id, to)
	})
}

func (h *OrdersHandler) assignFlorist(w http.ResponseWriter, r *http.Request) {
	var req floristReq
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FloristID) == "" {
		badRequest(w, "florist_id is required")
		return
	}
	h.mutation(w, r, func(ctx context.Context, id string) (orders.Order, error) {
		return h.Service.AssignFlorist(ctx, id, req.FloristID)
	})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id string) (orders.Order, error) {
		return h.Service.Cancel(ctx, id, req.Reason)
	})
}

func (h *OrdersHandler) setDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountReq
	if !decode(w, r, &req) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id string) (orders.Order, error) {
		return h.Service.SetDiscount(ctx, id, req.Amount)
	})
}

func (h *OrdersHandler) recalculate(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, h.Service.Recalculate)
}

func (h *OrdersHandler) updateItems(w http.ResponseWriter, r *http.Request) {
	var req itemsReq
	if !decode(w, r, &req) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id string) (orders.Order, error) {
		return h.Service.UpdateItems(ctx, id, req.Items)
	})
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
