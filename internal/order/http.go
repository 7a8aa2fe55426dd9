package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/idempotency"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/metrics"
)

type HTTPHandler struct {
	Service string
	Store   Store
	Metrics *metrics.ServerMetrics
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/orders", h.handleCreate)
	mux.HandleFunc("/api/v1/orders/", h.handleGet)
}

type createOrderRequest struct {
	UserID string `json:"userId"`
	Items  []Item `json:"items"`
}

// handleCreate returns 201 with the pending order immediately; the
// reservation outcome arrives asynchronously and clients poll for it. The
// order.created event is written to the outbox inside the creation
// transaction, never published inline.
func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		h.writeJSON(w, "order_create", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, "order_create", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if len(req.Items) == 0 {
		h.writeJSON(w, "order_create", start, http.StatusBadRequest, map[string]any{"error": "items is required"})
		return
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" || it.Quantity <= 0 || it.Price < 0 {
			h.writeJSON(w, "order_create", start, http.StatusBadRequest, map[string]any{"error": "each item must have product_id, quantity > 0 and price >= 0"})
			return
		}
	}

	idemKey := idempotency.Key(r)
	if idemKey != "" {
		if existing, err := h.Store.GetByIdempotencyKey(r.Context(), idemKey); err == nil && existing != nil {
			h.writeJSON(w, "order_create", start, http.StatusOK, existing)
			return
		}
	}

	now := time.Now().UTC()
	o := &Order{
		ID:          uuid.NewString(),
		UserID:      strings.TrimSpace(req.UserID),
		Items:       req.Items,
		TotalAmount: TotalOf(req.Items),
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if o.UserID == "" {
		o.UserID = "anonymous"
	}

	env, err := events.New(events.TopicOrderCreated, events.OrderCreated{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Items:       toEventItems(o.Items),
		TotalAmount: o.TotalAmount,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
	}, o.ID)
	if err != nil {
		h.writeJSON(w, "order_create", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if err := h.Store.Create(r.Context(), o, idemKey, env); err != nil {
		if errors.Is(err, ErrIdempotencyRace) && idemKey != "" {
			if existing, qerr := h.Store.GetByIdempotencyKey(r.Context(), idemKey); qerr == nil && existing != nil {
				h.writeJSON(w, "order_create", start, http.StatusOK, existing)
				return
			}
		}
		h.writeJSON(w, "order_create", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	logging.Log(logging.Fields{
		Service: h.Service, OrderID: o.ID, EventID: env.EventID,
		Step: "order_create", Status: string(o.Status),
	})
	h.writeJSON(w, "order_create", start, http.StatusCreated, o)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		h.writeJSON(w, "order_get", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/orders/"), "/")
	if id == "" || strings.Contains(id, "/") {
		h.writeJSON(w, "order_get", start, http.StatusNotFound, map[string]any{"error": "order not found"})
		return
	}
	o, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		h.writeJSON(w, "order_get", start, http.StatusNotFound, map[string]any{"error": "order not found"})
		return
	}
	if err != nil {
		h.writeJSON(w, "order_get", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	h.writeJSON(w, "order_get", start, http.StatusOK, o)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, handler string, start time.Time, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
	if h.Metrics != nil {
		h.Metrics.Requests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
		h.Metrics.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func toEventItems(items []Item) []events.OrderItem {
	out := make([]events.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, events.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return out
}
