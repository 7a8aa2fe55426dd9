package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic names. Partition key is always the order ID, so events for one
// order are consumed in publish order within a topic.
const (
	TopicOrderCreated      = "order.created"
	TopicInventoryReserved = "inventory.reserved"
	TopicInventoryFailed   = "inventory.failed"
	TopicPaymentSuccess    = "payment.success"
	TopicPaymentFailed     = "payment.failed"
)

const SchemaVersion = "1.0"

// Envelope is the wire format shared by every topic.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Version       string          `json:"version"`
}

// New wraps a payload in a fresh envelope. Marshalling the payload here
// keeps envelopes immutable once created.
func New(eventType string, payload any, correlationID string) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Version:       SchemaVersion,
	}, nil
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type ReservationItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type FailedItem struct {
	ProductID         string `json:"productId"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableQuantity int    `json:"availableQuantity"`
}

type OrderCreated struct {
	OrderID     string      `json:"orderId"`
	UserID      string      `json:"userId"`
	Items       []OrderItem `json:"items"`
	TotalAmount int64       `json:"totalAmount"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type InventoryReserved struct {
	OrderID       string            `json:"orderId"`
	ReservationID string            `json:"reservationId"`
	Items         []ReservationItem `json:"items"`
	ReservedAt    time.Time         `json:"reservedAt"`
}

type InventoryFailed struct {
	OrderID  string       `json:"orderId"`
	Items    []FailedItem `json:"items"`
	Reason   string       `json:"reason"`
	FailedAt time.Time    `json:"failedAt"`
}

type PaymentSuccess struct {
	OrderID       string    `json:"orderId"`
	PaymentID     string    `json:"paymentId"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"paymentMethod"`
	TransactionID string    `json:"transactionId"`
	PaidAt        time.Time `json:"paidAt"`
}

type PaymentFailed struct {
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Reason    string    `json:"reason"`
	ErrorCode string    `json:"errorCode,omitempty"`
	FailedAt  time.Time `json:"failedAt"`
}
