package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
)

var (
	ErrNoItems          = errors.New("reservation requires at least one item")
	ErrInvalidQuantity  = errors.New("item quantity must be a positive integer")
	ErrAlreadyProcessed = errors.New("order already processed")
)

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Stock struct {
	ProductID string    `json:"productId"`
	Available int       `json:"available"`
	Reserved  int       `json:"reserved"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Level struct {
	ProductID string `json:"productId"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Total     int    `json:"total"`
}

// Result is the outcome of a reservation attempt. Insufficient stock is a
// first-class result, not an error: errors are reserved for I/O and
// transactional failures, which the caller retries via redelivery.
type Result struct {
	Success       bool
	ReservationID string
	FailedItems   []events.FailedItem
	Reason        string
}

// Store is the reservation engine. Reserve is all-or-nothing across every
// item: either all rows are checked and mutated under one transactional
// scope or none are touched.
type Store interface {
	Reserve(ctx context.Context, orderID string, items []Item) (Result, error)
	Release(ctx context.Context, items []Item) error
	CreateOrUpdateStock(ctx context.Context, productID string, available int) error
	GetInventory(ctx context.Context, productID string) (*Level, error)
}

// ProcessedOrder is the permanent idempotency fact for one order.
type ProcessedOrder struct {
	OrderID       string    `json:"orderId"`
	Status        string    `json:"status"` // reserved | failed
	ReservationID string    `json:"reservationId,omitempty"`
	Items         []Item    `json:"items"`
	Reason        string    `json:"reason,omitempty"`
	ProcessedAt   time.Time `json:"processedAt"`
}

const (
	ProcessedReserved = "reserved"
	ProcessedFailed   = "failed"
)

// Ledger converts at-least-once delivery into effectively-once side
// effects. MarkProcessed inserts exactly once; a duplicate surfaces as
// ErrAlreadyProcessed, which callers treat as already-handled.
type Ledger interface {
	IsProcessed(ctx context.Context, orderID string) (bool, error)
	GetProcessedOrder(ctx context.Context, orderID string) (*ProcessedOrder, error)
	MarkProcessed(ctx context.Context, rec ProcessedOrder) error
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	for _, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: empty product id", ErrInvalidQuantity)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidQuantity, it.ProductID)
		}
	}
	return nil
}

func failureReason(failed []events.FailedItem) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", f.ProductID, f.RequestedQuantity, f.AvailableQuantity))
	}
	return "Insufficient stock: " + strings.Join(parts, "; ")
}
