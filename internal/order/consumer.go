package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
)

// Consumer wires the saga topics into state-machine transitions. Handlers
// are idempotent against replay: re-applying an event to an order that has
// already advanced is a logged no-op.
type Consumer struct {
	Service string
	Machine *StateMachine
}

func (c *Consumer) HandleInventoryReserved(ctx context.Context, env events.Envelope) error {
	var payload events.InventoryReserved
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("decode inventory.reserved: %w", err)
	}
	if payload.OrderID == "" {
		return errors.New("inventory.reserved event missing orderId")
	}
	c.logReceived(env, payload.OrderID, events.TopicInventoryReserved)
	return c.Machine.ApplyInventoryReserved(ctx, payload.OrderID)
}

func (c *Consumer) HandleInventoryFailed(ctx context.Context, env events.Envelope) error {
	var payload events.InventoryFailed
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("decode inventory.failed: %w", err)
	}
	if payload.OrderID == "" {
		return errors.New("inventory.failed event missing orderId")
	}
	c.logReceived(env, payload.OrderID, events.TopicInventoryFailed)
	return c.Machine.ApplyInventoryFailed(ctx, payload.OrderID, payload.Reason)
}

func (c *Consumer) HandlePaymentSuccess(ctx context.Context, env events.Envelope) error {
	var payload events.PaymentSuccess
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("decode payment.success: %w", err)
	}
	if payload.OrderID == "" {
		return errors.New("payment.success event missing orderId")
	}
	c.logReceived(env, payload.OrderID, events.TopicPaymentSuccess)
	return c.Machine.ApplyPaymentSuccess(ctx, payload.OrderID)
}

func (c *Consumer) HandlePaymentFailed(ctx context.Context, env events.Envelope) error {
	var payload events.PaymentFailed
	if err := env.Decode(&payload); err != nil {
		return fmt.Errorf("decode payment.failed: %w", err)
	}
	if payload.OrderID == "" {
		return errors.New("payment.failed event missing orderId")
	}
	c.logReceived(env, payload.OrderID, events.TopicPaymentFailed)
	return c.Machine.ApplyPaymentFailed(ctx, payload.OrderID, payload.Reason)
}

func (c *Consumer) logReceived(env events.Envelope, orderID, topic string) {
	logging.Log(logging.Fields{
		Service: c.Service, OrderID: orderID, EventID: env.EventID,
		CorrelationID: env.CorrelationID, Topic: topic, Status: "received",
	})
}
