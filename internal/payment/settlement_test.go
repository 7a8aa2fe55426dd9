package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
)

type settled struct {
	topic string
	key   string
	env   events.Envelope
}

type memPaymentStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
	emitted  []settled
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{payments: make(map[string]*Payment)}
}

func (s *memPaymentStore) Create(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.TransactionID] = &cp
	return nil
}

func (s *memPaymentStore) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPaymentStore) Settle(ctx context.Context, transactionID string, status Status, topic, key string, env events.Envelope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[transactionID]
	if !ok || p.WebhookProcessed {
		return false, nil
	}
	p.Status = status
	p.WebhookProcessed = true
	p.UpdatedAt = time.Now().UTC()
	s.emitted = append(s.emitted, settled{topic: topic, key: key, env: env})
	return true, nil
}

func seedPayment(s *memPaymentStore, txnID string) *Payment {
	p := &Payment{
		ID:            "pay-1",
		OrderID:       "o1",
		TransactionID: txnID,
		Amount:        2400,
		Currency:      "USD",
		PaymentMethod: "card",
		Status:        StatusPending,
	}
	s.payments[txnID] = p
	return p
}

func TestSettle_SuccessEmitsPaymentSuccess(t *testing.T) {
	store := newMemPaymentStore()
	seedPayment(store, "txn-1")
	s := &Settler{Service: "payment_test", Store: store}

	res, err := s.Settle(context.Background(), "txn-1", StatusSuccess)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Success || res.Duplicate {
		t.Errorf("unexpected result %+v", res)
	}

	p, _ := store.GetByTransactionID(context.Background(), "txn-1")
	if p.Status != StatusSuccess || !p.WebhookProcessed {
		t.Errorf("payment not settled: %+v", p)
	}

	if len(store.emitted) != 1 {
		t.Fatalf("expected 1 event, got %d", len(store.emitted))
	}
	got := store.emitted[0]
	if got.topic != events.TopicPaymentSuccess || got.key != "o1" {
		t.Errorf("unexpected event routing: topic=%s key=%s", got.topic, got.key)
	}
	var payload events.PaymentSuccess
	if err := got.env.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.OrderID != "o1" || payload.TransactionID != "txn-1" || payload.Amount != 2400 {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestSettle_FailureEmitsPaymentFailed(t *testing.T) {
	store := newMemPaymentStore()
	seedPayment(store, "txn-1")
	s := &Settler{Service: "payment_test", Store: store}

	res, err := s.Settle(context.Background(), "txn-1", StatusFailed)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Success {
		t.Errorf("unexpected result %+v", res)
	}

	got := store.emitted[0]
	if got.topic != events.TopicPaymentFailed {
		t.Errorf("expected payment.failed, got %s", got.topic)
	}
	var payload events.PaymentFailed
	_ = got.env.Decode(&payload)
	if payload.Reason != "Payment simulation failed" || payload.ErrorCode != "SIMULATION_FAILURE" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestSettle_UnknownTransaction(t *testing.T) {
	s := &Settler{Service: "payment_test", Store: newMemPaymentStore()}

	res, err := s.Settle(context.Background(), "missing", StatusSuccess)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Success || res.Message != "Payment not found" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSettle_InvalidOutcome(t *testing.T) {
	s := &Settler{Service: "payment_test", Store: newMemPaymentStore()}
	if _, err := s.Settle(context.Background(), "txn-1", Status("refunded")); err == nil {
		t.Error("expected error for invalid outcome")
	}
}

func TestSettle_DuplicateWebhookEmitsOnce(t *testing.T) {
	store := newMemPaymentStore()
	seedPayment(store, "txn-1")
	s := &Settler{Service: "payment_test", Store: store}

	if _, err := s.Settle(context.Background(), "txn-1", StatusSuccess); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	res, err := s.Settle(context.Background(), "txn-1", StatusFailed)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !res.Success || !res.Duplicate {
		t.Errorf("expected duplicate result, got %+v", res)
	}

	p, _ := store.GetByTransactionID(context.Background(), "txn-1")
	if p.Status != StatusSuccess {
		t.Errorf("duplicate webhook overwrote status: %s", p.Status)
	}
	if len(store.emitted) != 1 {
		t.Errorf("expected exactly 1 event across duplicate webhooks, got %d", len(store.emitted))
	}
}

func TestSettle_ConcurrentWebhooksEmitOnce(t *testing.T) {
	store := newMemPaymentStore()
	seedPayment(store, "txn-1")
	s := &Settler{Service: "payment_test", Store: store}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Settle(context.Background(), "txn-1", StatusSuccess)
		}()
	}
	wg.Wait()

	if len(store.emitted) != 1 {
		t.Errorf("expected exactly 1 event across concurrent webhooks, got %d", len(store.emitted))
	}
}

func TestProcessAsync_SettlesAfterDelay(t *testing.T) {
	store := newMemPaymentStore()
	p := seedPayment(store, "txn-1")
	p.ShouldFail = true
	p.DelayMS = 10
	pr := &Processor{Service: "payment_test", Settler: &Settler{Service: "payment_test", Store: store}}

	pr.ProcessAsync(p)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := store.GetByTransactionID(context.Background(), "txn-1")
		if got.WebhookProcessed {
			if got.Status != StatusFailed {
				t.Errorf("expected failed, got %s", got.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("payment was never settled")
}
