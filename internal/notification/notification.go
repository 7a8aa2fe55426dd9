package notification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
)

// Store records saga events as user-facing notifications. The inbox table,
// keyed by event_id, absorbs redeliveries.
type Store interface {
	Save(ctx context.Context, env events.Envelope, orderID string) (bool, error)
}

type PGStore struct {
	Pool *pgxpool.Pool
}

func (s *PGStore) Save(ctx context.Context, env events.Envelope, orderID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`INSERT INTO inbox(event_id, received_at) VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`,
		env.EventID,
	)
	if err != nil {
		return false, fmt.Errorf("insert inbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO notifications(event_id, order_id, type, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, orderID, env.EventType, env.Data,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

type Consumer struct {
	Service string
	Store   Store
}

// Handler builds an event handler for one topic. Every saga payload
// carries an orderId, which is all the projection needs.
func (c *Consumer) Handler(topic string) func(ctx context.Context, env events.Envelope) error {
	return func(ctx context.Context, env events.Envelope) error {
		var ref struct {
			OrderID string `json:"orderId"`
		}
		if err := env.Decode(&ref); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		if env.EventID == "" {
			return nil
		}
		saved, err := c.Store.Save(ctx, env, ref.OrderID)
		if err != nil {
			return err
		}
		status := "emitted"
		if !saved {
			status = "duplicate"
		}
		logging.Log(logging.Fields{
			Service: c.Service, OrderID: ref.OrderID, EventID: env.EventID,
			Topic: topic, Step: env.EventType, Status: status,
		})
		return nil
	}
}
