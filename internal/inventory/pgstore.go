package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/idempotency"
)

// PGStore implements the reservation engine on Postgres. Concurrent
// reservations against the same product serialize on row locks taken in
// product-id order, so no two reservations ever oversubscribe available.
type PGStore struct {
	Pool *pgxpool.Pool
}

func (s *PGStore) Reserve(ctx context.Context, orderID string, items []Item) (Result, error) {
	if err := validateItems(items); err != nil {
		return Result{}, err
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock rows in a stable order so concurrent multi-item reservations
	// cannot deadlock each other.
	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	available := make(map[string]int, len(ordered))
	for _, it := range ordered {
		var avail int
		err := tx.QueryRow(ctx, `SELECT available FROM stocks WHERE product_id=$1 FOR UPDATE`, it.ProductID).Scan(&avail)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // missing product reported as available=0
		}
		if err != nil {
			return Result{}, fmt.Errorf("check stock %s: %w", it.ProductID, err)
		}
		available[it.ProductID] = avail
	}

	var failed []events.FailedItem
	for _, it := range items {
		avail, ok := available[it.ProductID]
		if !ok || avail < it.Quantity {
			if !ok {
				avail = 0
			}
			failed = append(failed, events.FailedItem{
				ProductID:         it.ProductID,
				RequestedQuantity: it.Quantity,
				AvailableQuantity: avail,
			})
		}
	}
	if len(failed) > 0 {
		return Result{Success: false, FailedItems: failed, Reason: failureReason(failed)}, nil
	}

	for _, it := range ordered {
		_, err := tx.Exec(ctx,
			`UPDATE stocks SET available = available - $2, reserved = reserved + $2, updated_at = now() WHERE product_id = $1`,
			it.ProductID, it.Quantity,
		)
		if err != nil {
			return Result{}, fmt.Errorf("reserve stock %s: %w", it.ProductID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Success: true, ReservationID: "res_" + uuid.NewString()}, nil
}

func (s *PGStore) Release(ctx context.Context, items []Item) error {
	if err := validateItems(items); err != nil {
		return err
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	for _, it := range ordered {
		tag, err := tx.Exec(ctx,
			`UPDATE stocks SET available = available + $2, reserved = reserved - $2, updated_at = now()
			 WHERE product_id = $1 AND reserved >= $2`,
			it.ProductID, it.Quantity,
		)
		if err != nil {
			return fmt.Errorf("release stock %s: %w", it.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("release stock %s: nothing reserved to release", it.ProductID)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) CreateOrUpdateStock(ctx context.Context, productID string, available int) error {
	if available < 0 {
		return fmt.Errorf("%w: available must be >= 0", ErrInvalidQuantity)
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO stocks(product_id, available, reserved) VALUES ($1, $2, 0)
		 ON CONFLICT (product_id) DO UPDATE SET available = EXCLUDED.available, updated_at = now()`,
		productID, available,
	)
	return err
}

func (s *PGStore) GetInventory(ctx context.Context, productID string) (*Level, error) {
	var lvl Level
	err := s.Pool.QueryRow(ctx, `SELECT product_id, available, reserved FROM stocks WHERE product_id=$1`, productID).
		Scan(&lvl.ProductID, &lvl.Available, &lvl.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	lvl.Total = lvl.Available + lvl.Reserved
	return &lvl, nil
}

// PGLedger is the durable idempotency ledger. The primary key on order_id
// is the concurrency control: the first insert wins, everyone else gets
// ErrAlreadyProcessed.
type PGLedger struct {
	Pool *pgxpool.Pool
}

func (l *PGLedger) IsProcessed(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := l.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_orders WHERE order_id=$1)`, orderID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (l *PGLedger) GetProcessedOrder(ctx context.Context, orderID string) (*ProcessedOrder, error) {
	var rec ProcessedOrder
	var reservationID, reason *string
	err := l.Pool.QueryRow(ctx,
		`SELECT order_id, status, reservation_id, items, reason, processed_at FROM processed_orders WHERE order_id=$1`,
		orderID,
	).Scan(&rec.OrderID, &rec.Status, &reservationID, &rec.Items, &reason, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if reservationID != nil {
		rec.ReservationID = *reservationID
	}
	if reason != nil {
		rec.Reason = *reason
	}
	return &rec, nil
}

func (l *PGLedger) MarkProcessed(ctx context.Context, rec ProcessedOrder) error {
	_, err := l.Pool.Exec(ctx,
		`INSERT INTO processed_orders(order_id, status, reservation_id, items, reason, processed_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), now())`,
		rec.OrderID, rec.Status, rec.ReservationID, rec.Items, rec.Reason,
	)
	if idempotency.IsUniqueViolation(err) {
		return ErrAlreadyProcessed
	}
	return err
}
