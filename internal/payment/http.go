package payment

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/metrics"
)

type HTTPHandler struct {
	Service   string
	Store     Store
	Settler   *Settler
	Processor *Processor
	Metrics   *metrics.ServerMetrics
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/payments", h.handleCreate)
	mux.HandleFunc("/api/v1/payments/webhook", h.handleWebhook)
}

type createPaymentRequest struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
	Simulate      struct {
		ShouldFail bool `json:"shouldFail"`
		DelayMS    int  `json:"delayMs"`
	} `json:"simulate"`
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		h.writeJSON(w, "payment_create", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, "payment_create", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		h.writeJSON(w, "payment_create", start, http.StatusBadRequest, map[string]any{"error": "orderId is required"})
		return
	}
	if req.Amount <= 0 {
		h.writeJSON(w, "payment_create", start, http.StatusBadRequest, map[string]any{"error": "amount must be > 0"})
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "card"
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:            uuid.NewString(),
		OrderID:       req.OrderID,
		TransactionID: "txn_" + uuid.NewString(),
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Status:        StatusPending,
		ShouldFail:    req.Simulate.ShouldFail,
		DelayMS:       req.Simulate.DelayMS,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.Store.Create(r.Context(), p); err != nil {
		h.writeJSON(w, "payment_create", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	h.Processor.ProcessAsync(p)
	h.writeJSON(w, "payment_create", start, http.StatusCreated, p)
}

type webhookRequest struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

func (h *HTTPHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		h.writeJSON(w, "webhook", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, "webhook", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		h.writeJSON(w, "webhook", start, http.StatusBadRequest, map[string]any{"error": "transactionId is required"})
		return
	}
	outcome := Status(req.Status)
	if outcome != StatusSuccess && outcome != StatusFailed {
		h.writeJSON(w, "webhook", start, http.StatusBadRequest, map[string]any{"error": "status must be success or failed"})
		return
	}

	result, err := h.Settler.Settle(r.Context(), req.TransactionID, outcome)
	if err != nil {
		h.writeJSON(w, "webhook", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if !result.Success {
		h.writeJSON(w, "webhook", start, http.StatusNotFound, map[string]any{"error": result.Message})
		return
	}
	h.writeJSON(w, "webhook", start, http.StatusOK, map[string]any{
		"message":   result.Message,
		"duplicate": result.Duplicate,
	})
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
