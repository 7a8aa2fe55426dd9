package inventory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/metrics"
)

type HTTPHandler struct {
	Store   Store
	Ledger  Ledger
	Metrics *metrics.ServerMetrics
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/inventory/release", h.handleRelease)
	mux.HandleFunc("/api/v1/inventory/", h.handleStock)
}

type upsertStockRequest struct {
	Available *int `json:"available"`
}

type releaseRequest struct {
	Items []Item `json:"items"`
}

// handleStock serves PUT (admin upsert) and GET (level query) for
// /api/v1/inventory/{productId}.
func (h *HTTPHandler) handleStock(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	productID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/inventory/"), "/")
	if productID == "" || strings.Contains(productID, "/") {
		h.writeJSON(w, "stock", start, http.StatusNotFound, map[string]any{"error": "product not found"})
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var req upsertStockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSON(w, "stock_upsert", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		if req.Available == nil || *req.Available < 0 {
			h.writeJSON(w, "stock_upsert", start, http.StatusBadRequest, map[string]any{"error": "available must be >= 0"})
			return
		}
		if err := h.Store.CreateOrUpdateStock(r.Context(), productID, *req.Available); err != nil {
			h.writeJSON(w, "stock_upsert", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		level, err := h.Store.GetInventory(r.Context(), productID)
		if err != nil || level == nil {
			h.writeJSON(w, "stock_upsert", start, http.StatusOK, map[string]any{"productId": productID, "available": *req.Available})
			return
		}
		h.writeJSON(w, "stock_upsert", start, http.StatusOK, level)

	case http.MethodGet:
		level, err := h.Store.GetInventory(r.Context(), productID)
		if err != nil {
			h.writeJSON(w, "stock_get", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if level == nil {
			h.writeJSON(w, "stock_get", start, http.StatusNotFound, map[string]any{"error": "product not found"})
			return
		}
		h.writeJSON(w, "stock_get", start, http.StatusOK, level)

	default:
		h.writeJSON(w, "stock", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

// handleRelease is the admin compensation endpoint: it returns reserved
// stock to available, symmetric to Reserve.
func (h *HTTPHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		h.writeJSON(w, "release", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, "release", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if err := h.Store.Release(r.Context(), req.Items); err != nil {
		if errors.Is(err, ErrNoItems) || errors.Is(err, ErrInvalidQuantity) {
			h.writeJSON(w, "release", start, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		h.writeJSON(w, "release", start, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	h.writeJSON(w, "release", start, http.StatusOK, map[string]any{"status": "released"})
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
