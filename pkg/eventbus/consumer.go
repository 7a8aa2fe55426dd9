package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/logging"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/metrics"
)

const (
	DefaultHandlerAttempts = 3
	DefaultHandlerBackoff  = 500 * time.Millisecond
	DLQSuffix              = ".dlq"
)

// Handler processes one decoded event. Returning an error triggers a
// bounded redelivery; a persistent failure parks the raw message on the
// topic's dead-letter topic instead of being dropped.
type Handler func(ctx context.Context, env events.Envelope) error

type topicReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type ConsumerConfig struct {
	Client  *Client
	Service string
	GroupID string
	// HandlerAttempts bounds in-process retries per message before the
	// message is dead-lettered. Zero means DefaultHandlerAttempts.
	HandlerAttempts int
	HandlerBackoff  time.Duration
	// DLQ publishes dead-lettered messages. Optional; without it a
	// persistent failure is only logged.
	DLQ     *Producer
	Metrics *metrics.EventMetrics
}

// Consumer runs one reader loop per subscribed topic within a consumer
// group. Delivery is at-least-once: handlers must be idempotent.
type Consumer struct {
	cfg       ConsumerConfig
	newReader func(topic, group string) topicReader

	mu      sync.Mutex
	readers []topicReader
	wg      sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.HandlerAttempts <= 0 {
		cfg.HandlerAttempts = DefaultHandlerAttempts
	}
	if cfg.HandlerBackoff <= 0 {
		cfg.HandlerBackoff = DefaultHandlerBackoff
	}
	c := &Consumer{cfg: cfg}
	c.newReader = func(topic, group string) topicReader {
		return cfg.Client.NewReader(topic, group)
	}
	return c
}

// Subscribe starts the consume loop for topic in its own goroutine. It
// returns immediately; the loop exits when ctx is cancelled.
func (c *Consumer) Subscribe(ctx context.Context, topic string, h Handler) {
	r := c.newReader(topic, c.cfg.GroupID)
	c.mu.Lock()
	c.readers = append(c.readers, r)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx, r, topic, h)
	}()
}

func (c *Consumer) consumeLoop(ctx context.Context, r topicReader, topic string, h Handler) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				// io.EOF means the reader was closed during shutdown.
				return
			}
			logging.Log(logging.Fields{Service: c.cfg.Service, Topic: topic, Status: "read_error", Message: err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		c.handleMessage(ctx, topic, msg, h)
	}
}

func (c *Consumer) handleMessage(ctx context.Context, topic string, msg kafka.Message, h Handler) {
	var env events.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		logging.Log(logging.Fields{Service: c.cfg.Service, Topic: topic, Status: "decode_error", Message: err.Error()})
		c.deadLetter(ctx, topic, msg)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.HandlerAttempts; attempt++ {
		lastErr = h(ctx, env)
		if lastErr == nil {
			c.observe(topic, "ok")
			return
		}
		if attempt == c.cfg.HandlerAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.HandlerBackoff):
		}
	}

	logging.Log(logging.Fields{
		Service: c.cfg.Service,
		Topic:   topic,
		EventID: env.EventID,
		Status:  "handler_failed",
		Message: lastErr.Error(),
	})
	c.observe(topic, "failed")
	c.deadLetter(ctx, topic, msg)
}

func (c *Consumer) deadLetter(ctx context.Context, topic string, msg kafka.Message) {
	if c.cfg.DLQ == nil {
		return
	}
	err := c.cfg.DLQ.Send(ctx, topic+DLQSuffix, Message{Key: string(msg.Key), Value: msg.Value})
	if err != nil {
		logging.Log(logging.Fields{Service: c.cfg.Service, Topic: topic, Status: "dlq_error", Message: err.Error()})
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.DeadLettered.WithLabelValues(topic).Inc()
	}
}

func (c *Consumer) observe(topic, outcome string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Consumed.WithLabelValues(topic, outcome).Inc()
	}
}

// Close closes every reader and waits for the loops to drain.
func (c *Consumer) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.wg.Wait()
	return firstErr
}
