package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/metrics"
)

const (
	DefaultRetries     = 5
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultMaxBackoff  = 5 * time.Second
)

// Message is one record to publish. Key is the partition key (the order ID
// for every saga topic).
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

type topicWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Client *Client
	// Retries is the number of send attempts before the error is returned
	// to the caller. Zero means DefaultRetries.
	Retries     int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Metrics     *metrics.EventMetrics
}

// Producer publishes messages with bounded retry and exponential backoff.
// After exhausting retries the last error propagates to the caller, which
// decides whether to fail the request or drop the event.
type Producer struct {
	cfg       ProducerConfig
	newWriter func(topic string) topicWriter

	mu      sync.Mutex
	writers map[string]topicWriter
	closed  bool
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	p := &Producer{
		cfg:     cfg,
		writers: make(map[string]topicWriter),
	}
	p.newWriter = func(topic string) topicWriter {
		return cfg.Client.NewWriter(topic)
	}
	return p
}

// PublishEvent marshals the envelope and sends it keyed by key.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.Send(ctx, topic, Message{Key: key, Value: data})
}

func (p *Producer) Send(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	w, err := p.writer(topic)
	if err != nil {
		return err
	}

	records := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		rec := kafka.Message{Key: []byte(m.Key), Value: m.Value, Time: time.Now().UTC()}
		for k, v := range m.Headers {
			rec.Headers = append(rec.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		records = append(records, rec)
	}

	backoff := p.cfg.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retries; attempt++ {
		lastErr = w.WriteMessages(ctx, records...)
		if lastErr == nil {
			return nil
		}
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.PublishRetries.WithLabelValues(topic).Inc()
		}
		if attempt == p.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
	return fmt.Errorf("send to %s failed after %d attempts: %w", topic, p.cfg.Retries, lastErr)
}

func (p *Producer) writer(topic string) (topicWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrDisabled
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w, nil
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
