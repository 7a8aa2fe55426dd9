package outbox

import (
	"context"
	"time"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/eventbus"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
)

type Publisher interface {
	Send(ctx context.Context, topic string, msgs ...eventbus.Message) error
}

const (
	DefaultInterval  = 250 * time.Millisecond
	DefaultBatchSize = 100
)

// Relay drains pending outbox rows to the event bus. Rows stay pending
// until the publish succeeds, so a crash between publish and MarkSent can
// only cause redelivery, never loss.
type Relay struct {
	Store     Store
	Publisher Publisher
	Service   string
	Interval  time.Duration
	BatchSize int
}

func (r *Relay) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				logging.Log(logging.Fields{Service: r.Service, Step: "outbox_relay", Status: "error", Message: err.Error()})
			}
		}
	}
}

// Flush publishes one batch of pending records and reports how many were
// sent. Publish failures stop the pass; remaining rows are retried on the
// next tick.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	batch := r.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	pending, err := r.Store.FetchPending(ctx, batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range pending {
		err := r.Publisher.Send(ctx, rec.Topic, eventbus.Message{Key: rec.Key, Value: rec.Payload})
		if err != nil {
			return sent, err
		}
		if err := r.Store.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
		logging.Log(logging.Fields{Service: r.Service, EventID: rec.EventID, Topic: rec.Topic, Step: "outbox_relay", Status: "sent"})
	}
	return sent, nil
}
