package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/outbox"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var ErrNotFound = errors.New("payment not found")

// Payment is owned by the settlement handler. Once WebhookProcessed is
// true the status is immutable.
type Payment struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"orderId"`
	TransactionID    string    `json:"transactionId"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	PaymentMethod    string    `json:"paymentMethod"`
	Status           Status    `json:"status"`
	WebhookProcessed bool      `json:"webhookProcessed"`
	ShouldFail       bool      `json:"-"`
	DelayMS          int       `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type Store interface {
	Create(ctx context.Context, p *Payment) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	// Settle flips status and webhook_processed in one conditional update
	// and writes the outcome event to the outbox in the same transaction.
	// It reports false when the webhook was already processed: the row
	// predicate, not a prior read, is the idempotency guard.
	Settle(ctx context.Context, transactionID string, status Status, topic, key string, env events.Envelope) (bool, error)
}

type PGStore struct {
	Pool *pgxpool.Pool
}

func (s *PGStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO payments(id, order_id, transaction_id, amount, currency, payment_method, status, webhook_processed, should_fail, delay_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)`,
		p.ID, p.OrderID, p.TransactionID, p.Amount, p.Currency, p.PaymentMethod, p.Status, p.ShouldFail, p.DelayMS,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PGStore) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	var p Payment
	err := s.Pool.QueryRow(ctx,
		`SELECT id, order_id, transaction_id, amount, currency, payment_method, status, webhook_processed, should_fail, delay_ms, created_at, updated_at
		 FROM payments WHERE transaction_id=$1`,
		transactionID,
	).Scan(&p.ID, &p.OrderID, &p.TransactionID, &p.Amount, &p.Currency, &p.PaymentMethod, &p.Status, &p.WebhookProcessed, &p.ShouldFail, &p.DelayMS, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return &p, nil
}

func (s *PGStore) Settle(ctx context.Context, transactionID string, status Status, topic, key string, env events.Envelope) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE payments SET status=$2, webhook_processed=true, updated_at=now()
		 WHERE transaction_id=$1 AND webhook_processed=false`,
		transactionID, status,
	)
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := outbox.Insert(ctx, tx, env.EventID, topic, key, env); err != nil {
		return false, fmt.Errorf("insert outbox event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
