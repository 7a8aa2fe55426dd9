package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
)

type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	idem   map[string]string
	outbox []events.Envelope
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]*Order), idem: make(map[string]string)}
}

func (s *memOrderStore) Create(ctx context.Context, o *Order, idemKey string, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idemKey != "" {
		if _, ok := s.idem[idemKey]; ok {
			return ErrIdempotencyRace
		}
		s.idem[idemKey] = o.ID
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.outbox = append(s.outbox, env)
	return nil
}

func (s *memOrderStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memOrderStore) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	s.mu.Lock()
	orderID, ok := s.idem[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, orderID)
}

func (s *memOrderStore) UpdateStatus(ctx context.Context, id string, expectedVersion int, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Version != expectedVersion {
		return ErrVersionConflict
	}
	o.Status = status
	if reason != "" {
		o.CancelReason = reason
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func seedOrder(s *memOrderStore, id string, status Status) *Order {
	o := &Order{
		ID:          id,
		UserID:      "user-1",
		Items:       []Item{{ProductID: "p1", Quantity: 1, Price: 1200}},
		TotalAmount: 1200,
		Status:      status,
		Version:     1,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.orders[id] = o
	return o
}

func newMachine(s Store) *StateMachine {
	return &StateMachine{Service: "order_test", Store: s}
}

func TestApplyInventoryReserved_PendingMovesToReserved(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusPending)

	if err := newMachine(store).ApplyInventoryReserved(context.Background(), "o1"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	o, _ := store.Get(context.Background(), "o1")
	if o.Status != StatusReserved {
		t.Errorf("expected reserved, got %s", o.Status)
	}
	if o.Version != 2 {
		t.Errorf("expected version 2, got %d", o.Version)
	}
}

func TestApplyInventoryReserved_CancelledStaysCancelled(t *testing.T) {
	store := newMemOrderStore()
	o := seedOrder(store, "o1", StatusCancelled)
	o.CancelReason = "Insufficient stock"

	if err := newMachine(store).ApplyInventoryReserved(context.Background(), "o1"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusCancelled || got.Version != 1 {
		t.Errorf("cancelled order mutated: %s v%d", got.Status, got.Version)
	}
}

func TestApplyInventoryReserved_PaidIsNoop(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusPaid)

	if err := newMachine(store).ApplyInventoryReserved(context.Background(), "o1"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusPaid || got.Version != 1 {
		t.Errorf("paid order mutated by duplicate reservation event: %s v%d", got.Status, got.Version)
	}
}

func TestApplyInventoryFailed_CancelsWithReason(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusPending)

	reason := "Insufficient stock: p1: requested 15, available 10"
	if err := newMachine(store).ApplyInventoryFailed(context.Background(), "o1", reason); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if got.CancelReason != reason {
		t.Errorf("expected cancel reason %q, got %q", reason, got.CancelReason)
	}
}

func TestApplyPaymentSuccess_ReservedMovesToPaid(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusReserved)

	if err := newMachine(store).ApplyPaymentSuccess(context.Background(), "o1"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusPaid {
		t.Errorf("expected paid, got %s", got.Status)
	}
}

func TestApplyPaymentSuccess_CancelledIsConflictNoop(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusCancelled)

	if err := newMachine(store).ApplyPaymentSuccess(context.Background(), "o1"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusCancelled || got.Version != 1 {
		t.Errorf("cancelled order mutated by payment success: %s v%d", got.Status, got.Version)
	}
}

func TestApplyPaymentFailed_ReservedCancels(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusReserved)

	if err := newMachine(store).ApplyPaymentFailed(context.Background(), "o1", "Payment simulation failed"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if got.CancelReason != "Payment simulation failed" {
		t.Errorf("unexpected cancel reason %q", got.CancelReason)
	}
}

func TestApplyPaymentFailed_PaidIsConflictNoop(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusPaid)

	if err := newMachine(store).ApplyPaymentFailed(context.Background(), "o1", "late failure"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusPaid || got.Version != 1 {
		t.Errorf("paid order mutated by payment failure: %s v%d", got.Status, got.Version)
	}
}

func TestTransition_UnknownOrderIsLoggedNoop(t *testing.T) {
	store := newMemOrderStore()
	if err := newMachine(store).ApplyInventoryReserved(context.Background(), "missing"); err != nil {
		t.Errorf("unknown order should not error: %v", err)
	}
}

// conflictingStore fails the first UpdateStatus regardless of version, as
// if another consumer advanced the order between read and write.
type conflictingStore struct {
	*memOrderStore
	failures int
}

func (s *conflictingStore) UpdateStatus(ctx context.Context, id string, expectedVersion int, status Status, reason string) error {
	if s.failures > 0 {
		s.failures--
		return ErrVersionConflict
	}
	return s.memOrderStore.UpdateStatus(ctx, id, expectedVersion, status, reason)
}

func TestTransition_RetriesOnVersionConflict(t *testing.T) {
	base := newMemOrderStore()
	seedOrder(base, "o1", StatusPending)
	store := &conflictingStore{memOrderStore: base, failures: 2}

	if err := newMachine(store).ApplyInventoryReserved(context.Background(), "o1"); err != nil {
		t.Fatalf("apply should survive transient conflicts: %v", err)
	}
	got, _ := base.Get(context.Background(), "o1")
	if got.Status != StatusReserved {
		t.Errorf("expected reserved, got %s", got.Status)
	}
}

func TestTransition_ExhaustsRetries(t *testing.T) {
	base := newMemOrderStore()
	seedOrder(base, "o1", StatusPending)
	store := &conflictingStore{memOrderStore: base, failures: 100}

	m := &StateMachine{Service: "order_test", Store: store, Retries: 3}
	err := m.ApplyInventoryReserved(context.Background(), "o1")
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict after exhausted retries, got %v", err)
	}
}

func TestConsumer_HandleInventoryReserved(t *testing.T) {
	store := newMemOrderStore()
	seedOrder(store, "o1", StatusPending)
	c := &Consumer{Service: "order_test", Machine: newMachine(store)}

	env, _ := events.New(events.TopicInventoryReserved, events.InventoryReserved{OrderID: "o1", ReservationID: "res_1"}, "o1")
	if err := c.HandleInventoryReserved(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(context.Background(), "o1")
	if got.Status != StatusReserved {
		t.Errorf("expected reserved, got %s", got.Status)
	}
}

func TestConsumer_RejectsMissingOrderID(t *testing.T) {
	c := &Consumer{Service: "order_test", Machine: newMachine(newMemOrderStore())}

	env, _ := events.New(events.TopicPaymentSuccess, events.PaymentSuccess{}, "")
	if err := c.HandlePaymentSuccess(context.Background(), env); err == nil {
		t.Error("expected error for missing orderId")
	}
}

func TestTotalOf(t *testing.T) {
	items := []Item{
		{ProductID: "p1", Quantity: 2, Price: 1200},
		{ProductID: "p2", Quantity: 1, Price: 500},
	}
	if got := TotalOf(items); got != 2900 {
		t.Errorf("expected 2900, got %d", got)
	}
}
