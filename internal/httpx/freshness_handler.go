package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/freshness"
	"github.com/go-chi/chi/v5"
)

type FreshnessHandler struct {
	Service       *freshness.Service
	RetentionDays int
}

type batchDiscountReq struct {
	Percentage int `json:"discount_percentage"`
}

type soldReq struct {
	Date string `json:"date"` // YYYY-MM-DD, empty means today
}

func (h *FreshnessHandler) Register(r chi.Router) {
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.createBatch)
		r.Get("/", h.listBatches)
		r.Get("/needing-discount", h.needingDiscount)
		r.Get("/recommendations", h.recommendations)
		r.Get("/expiring-today", h.expiringToday)
		r.Get("/expired", h.expired)
		r.Get("/sold", h.sold)
		r.Get("/stats", h.statistics)
		r.Post("/recompute", h.recompute)
		r.Post("/cleanup", h.cleanup)
		r.Get("/{id}", h.getBatch)
		r.Post("/{id}/discount", h.applyDiscount)
		r.Post("/{id}/sold", h.markSold)
	})
}

func renderBatches(w http.ResponseWriter, bs []freshness.Batch, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if bs == nil {
		bs = []freshness.Batch{}
	}
	writeJSON(w, http.StatusOK, bs)
}

func (h *FreshnessHandler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req freshness.NewBatch
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Service.CreateBatch(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// listBatches filters by exactly one of item, status, batch_number or delivery_date.
func (h *FreshnessHandler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	switch {
	case q.Get("item_id") != "":
		bs, err := h.Service.ByItem(ctx, q.Get("item_id"))
		renderBatches(w, bs, err)
	case q.Get("status") != "":
		st, ok := freshness.ParseStatus(q.Get("status"))
		if !ok {
			badRequest(w, "unknown freshness status "+q.Get("status"))
			return
		}
		bs, err := h.Service.ByStatus(ctx, st)
		renderBatches(w, bs, err)
	case q.Get("batch_number") != "":
		bs, err := h.Service.ByBatchNumber(ctx, q.Get("batch_number"))
		renderBatches(w, bs, err)
	case q.Get("delivery_date") != "":
		day, err := queryDate(r, "delivery_date")
		if err != nil {
			badRequest(w, "delivery_date must be YYYY-MM-DD")
			return
		}
		bs, err := h.Service.ByDeliveryDate(ctx, *day)
		renderBatches(w, bs, err)
	case q.Get("expires_before") != "":
		day, err := queryDate(r, "expires_before")
		if err != nil {
			badRequest(w, "expires_before must be YYYY-MM-DD")
			return
		}
		bs, err := h.Service.ExpiringBefore(ctx, *day)
		renderBatches(w, bs, err)
	default:
		badRequest(w, "one of item_id, status, batch_number, delivery_date or expires_before is required")
	}
}

func (h *FreshnessHandler) needingDiscount(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Service.NeedingDiscount(r.Context())
	renderBatches(w, bs, err)
}

func (h *FreshnessHandler) expiringToday(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Service.ExpiringToday(r.Context())
	renderBatches(w, bs, err)
}

func (h *FreshnessHandler) expired(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Service.Expired(r.Context())
	renderBatches(w, bs, err)
}

func (h *FreshnessHandler) sold(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil || from == nil {
		badRequest(w, "from must be YYYY-MM-DD")
		return
	}
	to, err := queryDate(r, "to")
	if err != nil || to == nil {
		badRequest(w, "to must be YYYY-MM-DD")
		return
	}
	bs, err := h.Service.SoldInPeriod(r.Context(), *from, *to)
	renderBatches(w, bs, err)
}

func (h *FreshnessHandler) recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Service.DiscountRecommendations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []freshness.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *FreshnessHandler) statistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *FreshnessHandler) recompute(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	n, err := h.Service.RecomputeAll(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": n})
}

func (h *FreshnessHandler) cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "retention_days", h.RetentionDays)
	if err != nil || days < 0 {
		badRequest(w, "retention_days must be a non-negative integer")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	n, err := h.Service.CleanupExpired(ctx, days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *FreshnessHandler) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *FreshnessHandler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	var req batchDiscountReq
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Service.ApplyDiscount(r.Context(), chi.URLParam(r, "id"), req.Percentage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *FreshnessHandler) markSold(w http.ResponseWriter, r *http.Request) {
	var req soldReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var date time.Time
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	b, err := h.Service.MarkSold(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
