package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
)

type SettleResult struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate"`
	Message   string `json:"message"`
}

// Settler processes the asynchronous payment outcome exactly once per
// transaction. The webhook may be delivered more than once; only the first
// delivery flips the payment and emits an event.
type Settler struct {
	Service string
	Store   Store
}

func (s *Settler) Settle(ctx context.Context, transactionID string, outcome Status) (SettleResult, error) {
	if outcome != StatusSuccess && outcome != StatusFailed {
		return SettleResult{}, fmt.Errorf("invalid settlement outcome: %q", outcome)
	}

	p, err := s.Store.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		return SettleResult{Success: false, Message: "Payment not found"}, nil
	}
	if err != nil {
		return SettleResult{}, err
	}
	if p.WebhookProcessed {
		logging.Log(logging.Fields{Service: s.Service, OrderID: p.OrderID, Step: "settle", Status: "duplicate"})
		return SettleResult{Success: true, Duplicate: true, Message: "Already processed"}, nil
	}

	topic, env, err := s.outcomeEvent(p, outcome)
	if err != nil {
		return SettleResult{}, err
	}

	applied, err := s.Store.Settle(ctx, transactionID, outcome, topic, p.OrderID, env)
	if err != nil {
		return SettleResult{}, err
	}
	if !applied {
		// A concurrent webhook won the conditional update.
		logging.Log(logging.Fields{Service: s.Service, OrderID: p.OrderID, Step: "settle", Status: "duplicate"})
		return SettleResult{Success: true, Duplicate: true, Message: "Already processed"}, nil
	}

	logging.Log(logging.Fields{
		Service: s.Service, OrderID: p.OrderID, EventID: env.EventID,
		Topic: topic, Step: "settle", Status: string(outcome),
	})
	return SettleResult{Success: true, Message: "Webhook processed"}, nil
}

func (s *Settler) outcomeEvent(p *Payment, outcome Status) (string, events.Envelope, error) {
	now := time.Now().UTC()
	if outcome == StatusSuccess {
		env, err := events.New(events.TopicPaymentSuccess, events.PaymentSuccess{
			OrderID:       p.OrderID,
			PaymentID:     p.ID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			PaymentMethod: p.PaymentMethod,
			TransactionID: p.TransactionID,
			PaidAt:        now,
		}, p.OrderID)
		return events.TopicPaymentSuccess, env, err
	}
	env, err := events.New(events.TopicPaymentFailed, events.PaymentFailed{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Reason:    "Payment simulation failed",
		ErrorCode: "SIMULATION_FAILURE",
		FailedAt:  now,
	}, p.OrderID)
	return events.TopicPaymentFailed, env, err
}

// Processor simulates the out-of-band payment provider: it settles the
// payment after the configured delay, succeeding or failing per the
// simulation parameters on the payment record.
type Processor struct {
	Service string
	Settler *Settler
}

func (pr *Processor) ProcessAsync(p *Payment) {
	go func() {
		if p.DelayMS > 0 {
			time.Sleep(time.Duration(p.DelayMS) * time.Millisecond)
		}
		outcome := StatusSuccess
		if p.ShouldFail {
			outcome = StatusFailed
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := pr.Settler.Settle(ctx, p.TransactionID, outcome); err != nil {
			logging.Log(logging.Fields{
				Service: pr.Service, OrderID: p.OrderID, Step: "process_payment",
				Status: "error", Message: err.Error(),
			})
		}
	}()
}
