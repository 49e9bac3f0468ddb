package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/freshness"
	"github.com/ariefcatur/lavanda-orders/internal/orders"
	"github.com/ariefcatur/lavanda-orders/internal/stock"
)

const dateLayout = "2006-01-02"

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "BAD_REQUEST"})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var (
		transition *orders.InvalidTransitionError
		notAllowed *orders.OperationNotAllowedError
		orderInput *orders.ValidationError
		stockInput *stock.ValidationError
	)
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, stock.ErrNotFound), errors.Is(err, freshness.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, stock.ErrOverRelease):
		return http.StatusConflict, "OVER_RELEASE"
	case errors.Is(err, stock.ErrNegativeStock):
		return http.StatusConflict, "NEGATIVE_STOCK"
	case errors.Is(err, stock.ErrOrderSettled):
		return http.StatusConflict, "ORDER_SETTLED"
	case errors.Is(err, stock.ErrInactive):
		return http.StatusConflict, "INACTIVE_ITEM"
	case errors.Is(err, stock.ErrDuplicateSKU), errors.Is(err, orders.ErrDuplicateExternalID):
		return http.StatusConflict, "DUPLICATE"
	case errors.As(err, &transition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.As(err, &notAllowed):
		return http.StatusConflict, "OPERATION_NOT_ALLOWED"
	case errors.As(err, &orderInput), errors.As(err, &stockInput),
		errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, orders.ErrEmptyOrder), errors.Is(err, orders.ErrNegativeAmount),
		errors.Is(err, freshness.ErrInvalidDiscount), errors.Is(err, freshness.ErrInvalidBatch):
		return http.StatusBadRequest, "VALIDATION"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
