package order

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusReserved  Status = "reserved"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrVersionConflict = errors.New("order version conflict")
	ErrIdempotencyRace = errors.New("idempotency key already used")
)

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// Order status only moves forward along pending -> reserved -> paid ->
// shipped -> delivered, except into the absorbing cancelled state, which is
// reachable from pending or reserved. Version is bumped on every write and
// checked by compare-and-swap.
type Order struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Items        []Item    `json:"items"`
	TotalAmount  int64     `json:"totalAmount"`
	Status       Status    `json:"status"`
	CancelReason string    `json:"cancelReason,omitempty"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func TotalOf(items []Item) int64 {
	var total int64
	for _, it := range items {
		total += it.Price * int64(it.Quantity)
	}
	return total
}

func terminal(s Status) bool {
	return s == StatusPaid || s == StatusShipped || s == StatusDelivered
}
