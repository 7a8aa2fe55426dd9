package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, env events.Envelope) error
}

// Consumer handles order.created. The flow is: ledger check, atomic
// reserve, ledger mark, publish. Marking before publishing means a
// redelivered message can never re-reserve stock; the cost is that a
// publish failure after marking loses the event until redelivery of a
// later message, which operators see via the dead-letter topic.
type Consumer struct {
	Service   string
	Store     Store
	Ledger    Ledger
	Publisher EventPublisher
}

func (c *Consumer) HandleOrderCreated(ctx context.Context, env events.Envelope) error {
	var payload events.OrderCreated
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("decode order.created: %w", err)
	}
	orderID := payload.OrderID
	if orderID == "" {
		return errors.New("order.created event missing orderId")
	}

	logging.Log(logging.Fields{
		Service: c.Service, OrderID: orderID, EventID: env.EventID,
		CorrelationID: env.CorrelationID, Topic: events.TopicOrderCreated, Status: "received",
	})

	processed, err := c.Ledger.IsProcessed(ctx, orderID)
	if err != nil {
		return fmt.Errorf("ledger check: %w", err)
	}
	if processed {
		rec, _ := c.Ledger.GetProcessedOrder(ctx, orderID)
		status := ""
		if rec != nil {
			status = rec.Status
		}
		logging.Log(logging.Fields{
			Service: c.Service, OrderID: orderID, Step: "idempotency",
			Status: "skipped", Message: "already processed as " + status,
		})
		return nil
	}

	items := make([]Item, 0, len(payload.Items))
	for _, it := range payload.Items {
		items = append(items, Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	result, err := c.Store.Reserve(ctx, orderID, items)
	if err != nil {
		return fmt.Errorf("reserve for order %s: %w", orderID, err)
	}

	rec := ProcessedOrder{OrderID: orderID, Items: items, ProcessedAt: time.Now().UTC()}
	if result.Success {
		rec.Status = ProcessedReserved
		rec.ReservationID = result.ReservationID
	} else {
		rec.Status = ProcessedFailed
		rec.Reason = result.Reason
	}
	if err := c.Ledger.MarkProcessed(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			// Lost the race to a concurrent consumer; it owns the publish.
			logging.Log(logging.Fields{Service: c.Service, OrderID: orderID, Step: "idempotency", Status: "race_lost"})
			return nil
		}
		return fmt.Errorf("mark processed: %w", err)
	}

	if result.Success {
		return c.publishReserved(ctx, env, orderID, result.ReservationID, items)
	}
	return c.publishFailed(ctx, env, orderID, result)
}

func (c *Consumer) publishReserved(ctx context.Context, env events.Envelope, orderID, reservationID string, items []Item) error {
	payload := events.InventoryReserved{
		OrderID:       orderID,
		ReservationID: reservationID,
		Items:         toReservationItems(items),
		ReservedAt:    time.Now().UTC(),
	}
	out, err := events.New(events.TopicInventoryReserved, payload, env.CorrelationID)
	if err != nil {
		return err
	}
	if err := c.Publisher.PublishEvent(ctx, events.TopicInventoryReserved, orderID, out); err != nil {
		return fmt.Errorf("publish inventory.reserved: %w", err)
	}
	logging.Log(logging.Fields{
		Service: c.Service, OrderID: orderID, EventID: out.EventID,
		Topic: events.TopicInventoryReserved, Status: "published",
	})
	return nil
}

func (c *Consumer) publishFailed(ctx context.Context, env events.Envelope, orderID string, result Result) error {
	payload := events.InventoryFailed{
		OrderID:  orderID,
		Items:    result.FailedItems,
		Reason:   result.Reason,
		FailedAt: time.Now().UTC(),
	}
	out, err := events.New(events.TopicInventoryFailed, payload, env.CorrelationID)
	if err != nil {
		return err
	}
	if err := c.Publisher.PublishEvent(ctx, events.TopicInventoryFailed, orderID, out); err != nil {
		return fmt.Errorf("publish inventory.failed: %w", err)
	}
	logging.Log(logging.Fields{
		Service: c.Service, OrderID: orderID, EventID: out.EventID,
		Topic: events.TopicInventoryFailed, Status: "published", Message: result.Reason,
	})
	return nil
}

func toReservationItems(items []Item) []events.ReservationItem {
	out := make([]events.ReservationItem, 0, len(items))
	for _, it := range items {
		out = append(out, events.ReservationItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
