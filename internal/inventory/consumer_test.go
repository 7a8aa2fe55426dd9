package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/lovepreet-singh-code/Ecommerce-Backend/pkg/events"
)

type memStore struct {
	mu        sync.Mutex
	available map[string]int
	reserved  map[string]int
}

func newMemStore(levels map[string]int) *memStore {
	s := &memStore{available: make(map[string]int), reserved: make(map[string]int)}
	for k, v := range levels {
		s.available[k] = v
	}
	return s
}

func (s *memStore) Reserve(ctx context.Context, orderID string, items []Item) (Result, error) {
	if err := validateItems(items); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var failed []events.FailedItem
	for _, it := range sorted {
		if s.available[it.ProductID] < it.Quantity {
			failed = append(failed, events.FailedItem{
				ProductID:         it.ProductID,
				RequestedQuantity: it.Quantity,
				AvailableQuantity: s.available[it.ProductID],
			})
		}
	}
	if len(failed) > 0 {
		return Result{Success: false, FailedItems: failed, Reason: failureReason(failed)}, nil
	}
	for _, it := range sorted {
		s.available[it.ProductID] -= it.Quantity
		s.reserved[it.ProductID] += it.Quantity
	}
	return Result{Success: true, ReservationID: "res_" + uuid.NewString()}, nil
}

func (s *memStore) Release(ctx context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if s.reserved[it.ProductID] < it.Quantity {
			return fmt.Errorf("release exceeds reserved for %s", it.ProductID)
		}
		s.reserved[it.ProductID] -= it.Quantity
		s.available[it.ProductID] += it.Quantity
	}
	return nil
}

func (s *memStore) CreateOrUpdateStock(ctx context.Context, productID string, available int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available[productID] = available
	return nil
}

func (s *memStore) GetInventory(ctx context.Context, productID string) (*Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.available[productID]; !ok {
		if _, ok := s.reserved[productID]; !ok {
			return nil, nil
		}
	}
	a, r := s.available[productID], s.reserved[productID]
	return &Level{ProductID: productID, Available: a, Reserved: r, Total: a + r}, nil
}

type memLedger struct {
	mu      sync.Mutex
	records map[string]ProcessedOrder
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[string]ProcessedOrder)}
}

func (l *memLedger) IsProcessed(ctx context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[orderID]
	return ok, nil
}

func (l *memLedger) GetProcessedOrder(ctx context.Context, orderID string) (*ProcessedOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[orderID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *memLedger) MarkProcessed(ctx context.Context, rec ProcessedOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.OrderID]; ok {
		return ErrAlreadyProcessed
	}
	l.records[rec.OrderID] = rec
	return nil
}

type published struct {
	topic string
	key   string
	env   events.Envelope
}

type memPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *memPublisher) PublishEvent(ctx context.Context, topic, key string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, key: key, env: env})
	return nil
}

func (p *memPublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, s := range p.sent {
		if s.topic == topic {
			out = append(out, s)
		}
	}
	return out
}

func orderCreatedEnvelope(t *testing.T, orderID string, items ...events.OrderItem) events.Envelope {
	t.Helper()
	env, err := events.New(events.TopicOrderCreated, events.OrderCreated{
		OrderID: orderID,
		UserID:  "user-1",
		Items:   items,
		Status:  "pending",
	}, orderID)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func TestHandleOrderCreated_ReservesAndPublishes(t *testing.T) {
	store := newMemStore(map[string]int{"p1": 10})
	ledger := newMemLedger()
	pub := &memPublisher{}
	c := &Consumer{Service: "inventory_test", Store: store, Ledger: ledger, Publisher: pub}

	env := orderCreatedEnvelope(t, "order-1", events.OrderItem{ProductID: "p1", Quantity: 3, Price: 100})
	if err := c.HandleOrderCreated(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	level, _ := store.GetInventory(context.Background(), "p1")
	if level.Available != 7 || level.Reserved != 3 || level.Total != 10 {
		t.Errorf("expected 7/3/10, got %d/%d/%d", level.Available, level.Reserved, level.Total)
	}

	sent := pub.byTopic(events.TopicInventoryReserved)
	if len(sent) != 1 {
		t.Fatalf("expected 1 inventory.reserved event, got %d", len(sent))
	}
	if sent[0].key != "order-1" {
		t.Errorf("expected partition key order-1, got %s", sent[0].key)
	}
	var payload events.InventoryReserved
	if err := sent[0].env.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(payload.ReservationID, "res_") {
		t.Errorf("expected res_ prefix, got %s", payload.ReservationID)
	}
	if sent[0].env.CorrelationID != env.CorrelationID {
		t.Errorf("correlation id not propagated")
	}

	rec, _ := ledger.GetProcessedOrder(context.Background(), "order-1")
	if rec == nil || rec.Status != ProcessedReserved {
		t.Errorf("expected ledger record with status reserved, got %+v", rec)
	}
}

func TestHandleOrderCreated_InsufficientStock(t *testing.T) {
	store := newMemStore(map[string]int{"p1": 10})
	ledger := newMemLedger()
	pub := &memPublisher{}
	c := &Consumer{Service: "inventory_test", Store: store, Ledger: ledger, Publisher: pub}

	env := orderCreatedEnvelope(t, "order-1", events.OrderItem{ProductID: "p1", Quantity: 15, Price: 100})
	if err := c.HandleOrderCreated(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	level, _ := store.GetInventory(context.Background(), "p1")
	if level.Available != 10 || level.Reserved != 0 {
		t.Errorf("stock mutated on failed reservation: %d/%d", level.Available, level.Reserved)
	}

	sent := pub.byTopic(events.TopicInventoryFailed)
	if len(sent) != 1 {
		t.Fatalf("expected 1 inventory.failed event, got %d", len(sent))
	}
	var payload events.InventoryFailed
	if err := sent[0].env.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].RequestedQuantity != 15 || payload.Items[0].AvailableQuantity != 10 {
		t.Errorf("unexpected failed items: %+v", payload.Items)
	}
	if !strings.Contains(payload.Reason, "requested 15, available 10") {
		t.Errorf("unexpected reason: %s", payload.Reason)
	}

	rec, _ := ledger.GetProcessedOrder(context.Background(), "order-1")
	if rec == nil || rec.Status != ProcessedFailed {
		t.Errorf("expected ledger record with status failed, got %+v", rec)
	}
}

func TestHandleOrderCreated_PartialShortfallRollsBack(t *testing.T) {
	store := newMemStore(map[string]int{"p1": 10, "p2": 1})
	ledger := newMemLedger()
	pub := &memPublisher{}
	c := &Consumer{Service: "inventory_test", Store: store, Ledger: ledger, Publisher: pub}

	env := orderCreatedEnvelope(t, "order-1",
		events.OrderItem{ProductID: "p1", Quantity: 2, Price: 100},
		events.OrderItem{ProductID: "p2", Quantity: 5, Price: 50},
	)
	if err := c.HandleOrderCreated(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	p1, _ := store.GetInventory(context.Background(), "p1")
	if p1.Available != 10 || p1.Reserved != 0 {
		t.Errorf("p1 mutated despite p2 shortfall: %d/%d", p1.Available, p1.Reserved)
	}

	sent := pub.byTopic(events.TopicInventoryFailed)
	if len(sent) != 1 {
		t.Fatalf("expected 1 inventory.failed event, got %d", len(sent))
	}
	var payload events.InventoryFailed
	_ = sent[0].env.Decode(&payload)
	if len(payload.Items) != 1 || payload.Items[0].ProductID != "p2" {
		t.Errorf("expected only p2 in failed items, got %+v", payload.Items)
	}
}

func TestHandleOrderCreated_DuplicateDeliverySkips(t *testing.T) {
	store := newMemStore(map[string]int{"p1": 10})
	ledger := newMemLedger()
	pub := &memPublisher{}
	c := &Consumer{Service: "inventory_test", Store: store, Ledger: ledger, Publisher: pub}

	env := orderCreatedEnvelope(t, "order-1", events.OrderItem{ProductID: "p1", Quantity: 3, Price: 100})
	if err := c.HandleOrderCreated(context.Background(), env); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := c.HandleOrderCreated(context.Background(), env); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	level, _ := store.GetInventory(context.Background(), "p1")
	if level.Available != 7 || level.Reserved != 3 {
		t.Errorf("redelivery mutated stock: %d/%d", level.Available, level.Reserved)
	}
	if got := len(pub.byTopic(events.TopicInventoryReserved)); got != 1 {
		t.Errorf("expected 1 published event after redelivery, got %d", got)
	}
}

// racingLedger reports unprocessed but rejects the mark, as if a
// concurrent consumer inserted between the check and the insert.
type racingLedger struct {
	*memLedger
}

func (l *racingLedger) IsProcessed(ctx context.Context, orderID string) (bool, error) {
	return false, nil
}

func (l *racingLedger) MarkProcessed(ctx context.Context, rec ProcessedOrder) error {
	return ErrAlreadyProcessed
}

func TestHandleOrderCreated_RaceLostDoesNotPublish(t *testing.T) {
	store := newMemStore(map[string]int{"p1": 10})
	pub := &memPublisher{}
	c := &Consumer{Service: "inventory_test", Store: store, Ledger: &racingLedger{newMemLedger()}, Publisher: pub}

	env := orderCreatedEnvelope(t, "order-1", events.OrderItem{ProductID: "p1", Quantity: 3, Price: 100})
	if err := c.HandleOrderCreated(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Errorf("expected no events published, got %d", len(pub.sent))
	}
}

func TestHandleOrderCreated_MissingOrderID(t *testing.T) {
	c := &Consumer{Service: "inventory_test", Store: newMemStore(nil), Ledger: newMemLedger(), Publisher: &memPublisher{}}
	env, _ := events.New(events.TopicOrderCreated, events.OrderCreated{}, "")
	if err := c.HandleOrderCreated(context.Background(), env); err == nil {
		t.Error("expected error for missing orderId")
	}
}

func TestHandleOrderCreated_ConcurrentOrdersConserveStock(t *testing.T) {
	initialStock := 20
	totalOrders := 50

	store := newMemStore(map[string]int{"p1": initialStock})
	ledger := newMemLedger()
	pub := &memPublisher{}
	c := &Consumer{Service: "inventory_test", Store: store, Ledger: ledger, Publisher: pub}

	var wg sync.WaitGroup
	var handleErrs atomic.Int32
	for i := 0; i < totalOrders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			orderID := fmt.Sprintf("order-%d", n)
			env := orderCreatedEnvelope(t, orderID, events.OrderItem{ProductID: "p1", Quantity: 1, Price: 100})
			if err := c.HandleOrderCreated(context.Background(), env); err != nil {
				handleErrs.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if handleErrs.Load() != 0 {
		t.Fatalf("expected no handler errors, got %d", handleErrs.Load())
	}

	reserved := len(pub.byTopic(events.TopicInventoryReserved))
	failed := len(pub.byTopic(events.TopicInventoryFailed))
	if reserved != initialStock {
		t.Errorf("expected %d reservations, got %d", initialStock, reserved)
	}
	if failed != totalOrders-initialStock {
		t.Errorf("expected %d failures, got %d", totalOrders-initialStock, failed)
	}

	level, _ := store.GetInventory(context.Background(), "p1")
	if level.Available != 0 || level.Reserved != initialStock || level.Total != initialStock {
		t.Errorf("conservation violated: %d/%d/%d", level.Available, level.Reserved, level.Total)
	}
}

func TestValidateItems(t *testing.T) {
	if err := validateItems(nil); !errors.Is(err, ErrNoItems) {
		t.Errorf("expected ErrNoItems, got %v", err)
	}
	if err := validateItems([]Item{{ProductID: "p1", Quantity: 0}}); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for zero quantity, got %v", err)
	}
	if err := validateItems([]Item{{ProductID: " ", Quantity: 1}}); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for blank product, got %v", err)
	}
	if err := validateItems([]Item{{ProductID: "p1", Quantity: 1}}); err != nil {
		t.Errorf("expected valid items, got %v", err)
	}
}
