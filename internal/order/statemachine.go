package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
)

const defaultCASRetries = 5

// decision is what a transition rule wants done with the order it read.
type decision struct {
	apply  bool
	target Status
	reason string
	note   string // logged when the rule is a no-op or a conflict
}

func noop(note string) decision {
	return decision{note: note}
}

func moveTo(s Status, reason string) decision {
	return decision{apply: true, target: s, reason: reason}
}

// StateMachine applies saga-event transitions to orders. Every write is a
// compare-and-swap on the version read; on conflict the order is re-read
// and the rule re-evaluated, so a concurrent consumer's update is observed
// rather than overwritten.
type StateMachine struct {
	Service string
	Store   Store
	// Retries bounds CAS attempts. Zero means defaultCASRetries.
	Retries int
}

func (m *StateMachine) transition(ctx context.Context, orderID, step string, rule func(*Order) decision) error {
	retries := m.Retries
	if retries <= 0 {
		retries = defaultCASRetries
	}
	for attempt := 1; attempt <= retries; attempt++ {
		o, err := m.Store.Get(ctx, orderID)
		if errors.Is(err, ErrNotFound) {
			logging.Log(logging.Fields{Service: m.Service, OrderID: orderID, Step: step, Status: "order_not_found"})
			return nil
		}
		if err != nil {
			return err
		}

		d := rule(o)
		if !d.apply {
			logging.Log(logging.Fields{Service: m.Service, OrderID: orderID, Step: step, Status: "noop", Message: d.note})
			return nil
		}

		err = m.Store.UpdateStatus(ctx, orderID, o.Version, d.target, d.reason)
		if err == nil {
			logging.Log(logging.Fields{
				Service: m.Service, OrderID: orderID, Step: step,
				Status: string(d.target), Message: d.reason,
			})
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		// Conflict: another consumer advanced the order; re-read and
		// re-evaluate against the new state.
	}
	return fmt.Errorf("%w: order %s after %d attempts", ErrVersionConflict, orderID, retries)
}

// ApplyInventoryReserved moves pending orders to reserved. Orders that are
// cancelled or already advanced are left untouched.
func (m *StateMachine) ApplyInventoryReserved(ctx context.Context, orderID string) error {
	return m.transition(ctx, orderID, "inventory_reserved", func(o *Order) decision {
		switch {
		case o.Status == StatusCancelled:
			return noop("order already cancelled, ignoring inventory reservation")
		case o.Status == StatusReserved || terminal(o.Status):
			return noop("order already in " + string(o.Status) + " state, ignoring inventory reservation")
		default:
			return moveTo(StatusReserved, "")
		}
	})
}

// ApplyInventoryFailed cancels the order unless it is already cancelled.
func (m *StateMachine) ApplyInventoryFailed(ctx context.Context, orderID, reason string) error {
	return m.transition(ctx, orderID, "inventory_failed", func(o *Order) decision {
		if o.Status == StatusCancelled {
			return noop("order already cancelled")
		}
		return moveTo(StatusCancelled, reason)
	})
}

// ApplyPaymentSuccess moves the order to paid. Payment succeeding against a
// cancelled order is a saga inconsistency that requires manual
// reconciliation; it is logged loudly and left alone.
func (m *StateMachine) ApplyPaymentSuccess(ctx context.Context, orderID string) error {
	return m.transition(ctx, orderID, "payment_success", func(o *Order) decision {
		switch {
		case o.Status == StatusCancelled:
			logging.Log(logging.Fields{
				Service: m.Service, OrderID: orderID, Step: "payment_success", Status: "conflict",
				Message: "payment succeeded for a cancelled order, manual intervention required",
			})
			return noop("cancelled order, payment conflict recorded")
		case terminal(o.Status):
			return noop("order already in " + string(o.Status) + " state, ignoring payment success")
		default:
			return moveTo(StatusPaid, "")
		}
	})
}

// ApplyPaymentFailed cancels the order and records that the reservation
// must be compensated. Orders already paid or beyond are a conflict to
// reconcile manually, not something to roll back here.
func (m *StateMachine) ApplyPaymentFailed(ctx context.Context, orderID, reason string) error {
	return m.transition(ctx, orderID, "payment_failed", func(o *Order) decision {
		switch {
		case o.Status == StatusCancelled:
			return noop("order already cancelled")
		case terminal(o.Status):
			logging.Log(logging.Fields{
				Service: m.Service, OrderID: orderID, Step: "payment_failed", Status: "conflict",
				Message: "payment failed for a " + string(o.Status) + " order, manual intervention required",
			})
			return noop("order already " + string(o.Status))
		default:
			if o.Status == StatusReserved {
				logging.Log(logging.Fields{
					Service: m.Service, OrderID: orderID, Step: "payment_failed", Status: "compensation_required",
					Message: "reserved stock must be released for cancelled order",
				})
			}
			return moveTo(StatusCancelled, reason)
		}
	})
}
