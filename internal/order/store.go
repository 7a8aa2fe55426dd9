package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/idempotency"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/outbox"
)

// Store owns the order record. Create writes the order, its items, the
// optional idempotency key and the order.created outbox row in one
// transaction. UpdateStatus is a compare-and-swap on version.
type Store interface {
	Create(ctx context.Context, o *Order, idemKey string, env events.Envelope) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, expectedVersion int, status Status, reason string) error
}

type PGStore struct {
	Pool *pgxpool.Pool
}

func (s *PGStore) Create(ctx context.Context, o *Order, idemKey string, env events.Envelope) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders(id, user_id, status, total_amount, version) VALUES ($1, $2, $3, $4, 1)`,
		o.ID, o.UserID, o.Status, o.TotalAmount,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Quantity, it.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if idemKey != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_idempotency(idempotency_key, order_id) VALUES ($1, $2)`,
			idemKey, o.ID,
		)
		if err != nil {
			if idempotency.IsUniqueViolation(err) {
				return ErrIdempotencyRace
			}
			return err
		}
	}

	if err := outbox.Insert(ctx, tx, env.EventID, events.TopicOrderCreated, o.ID, env); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	var reason *string
	err := s.Pool.QueryRow(ctx,
		`SELECT id, user_id, status, total_amount, cancel_reason, version, created_at, updated_at FROM orders WHERE id=$1`,
		id,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalAmount, &reason, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if reason != nil {
		o.CancelReason = *reason
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT product_id, quantity, price FROM order_items WHERE order_id=$1 ORDER BY product_id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (s *PGStore) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	var orderID string
	err := s.Pool.QueryRow(ctx,
		`SELECT order_id FROM order_idempotency WHERE idempotency_key=$1`, key,
	).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *PGStore) UpdateStatus(ctx context.Context, id string, expectedVersion int, status Status, reason string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders
		 SET status=$3, cancel_reason=COALESCE(NULLIF($4, ''), cancel_reason), version=version+1, updated_at=now()
		 WHERE id=$1 AND version=$2`,
		id, expectedVersion, status, reason,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}
