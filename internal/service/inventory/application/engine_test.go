package application

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/inventory/domain"
)

type processedKey struct {
	orderID int64
	phase   sagaevent.Phase
}

// memStore 在事务开始时复制一份状态，fn 成功才提交
type memStore struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	processed map[processedKey]sagaevent.Status
	conflicts int // 前 N 次 SaveProducts 模拟并发冲突
}

func newMemStore(products ...domain.Product) *memStore {
	s := &memStore{products: map[string]domain.Product{}, processed: map[processedKey]sagaevent.Status{}}
	for _, p := range products {
		s.products[p.Code] = p
	}
	return s
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, products: map[string]domain.Product{}, processed: map[processedKey]sagaevent.Status{}}
	for k, v := range s.products {
		tx.products[k] = v
	}
	for k, v := range s.processed {
		tx.processed[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.products, s.processed = tx.products, tx.processed
	return nil
}

func (s *memStore) product(code string) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[code]
}

type memTx struct {
	store     *memStore
	products  map[string]domain.Product
	processed map[processedKey]sagaevent.Status
}

func (t *memTx) FindProducts(ctx context.Context, codes []string) ([]*domain.Product, error) {
	var out []*domain.Product
	for _, c := range codes {
		if p, ok := t.products[c]; ok {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) SaveProducts(ctx context.Context, products []*domain.Product) error {
	if t.store.conflicts > 0 {
		t.store.conflicts--
		return domain.ErrOptimisticLock
	}
	for _, p := range products {
		if t.products[p.Code].Version != p.Version {
			return domain.ErrOptimisticLock
		}
		p.Version++
		t.products[p.Code] = *p
	}
	return nil
}

func (t *memTx) Processed(ctx context.Context, orderID int64, phase sagaevent.Phase) (sagaevent.Status, bool, error) {
	st, ok := t.processed[processedKey{orderID, phase}]
	return st, ok, nil
}

func (t *memTx) MarkProcessed(ctx context.Context, orderID int64, phase sagaevent.Phase, status sagaevent.Status) error {
	k := processedKey{orderID, phase}
	if _, ok := t.processed[k]; ok {
		return domain.ErrOptimisticLock
	}
	t.processed[k] = status
	return nil
}

type recordingPublisher struct {
	events []*sagaevent.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e *sagaevent.OrderEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func order(id int64, status sagaevent.Status, source sagaevent.Source, items ...sagaevent.Item) *sagaevent.OrderEvent {
	return &sagaevent.OrderEvent{OrderID: id, CustomerID: 1, Status: status, Source: source, Items: items}
}

func item(code string, qty int32) sagaevent.Item {
	return sagaevent.Item{ProductID: code, Quantity: qty, ProductPrice: decimal.NewFromInt(5)}
}

type InventoryEngineSuite struct {
	suite.Suite
	store     *memStore
	publisher *recordingPublisher
	engine    *ReservationEngine
}

func (s *InventoryEngineSuite) SetupTest() {
	s.store = newMemStore(
		domain.Product{Code: "apple", AvailableQuantity: 10},
		domain.Product{Code: "pear", AvailableQuantity: 3},
	)
	s.publisher = &recordingPublisher{}
	s.engine = NewReservationEngine(s.store, s.publisher, noop.NewTracerProvider().Tracer("test"), 3)
	s.engine.conflictBackoff = 0
}

func (s *InventoryEngineSuite) handle(ev *sagaevent.OrderEvent) {
	s.Require().NoError(s.engine.Handle(context.Background(), ev))
}

func (s *InventoryEngineSuite) lastOutcome() *sagaevent.OrderEvent {
	s.Require().NotEmpty(s.publisher.events)
	return s.publisher.events[len(s.publisher.events)-1]
}

func (s *InventoryEngineSuite) TestReserveAccept() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4), item("pear", 3)))

	out := s.lastOutcome()
	s.Equal(sagaevent.StatusAccept, out.Status)
	s.Equal(sagaevent.SourceInventory, out.Source)
	s.Equal(int64(1), out.OrderID)
	s.Equal(domain.Product{Code: "apple", AvailableQuantity: 6, ReservedItems: 4, Version: 1}, s.store.product("apple"))
	s.Equal(domain.Product{Code: "pear", AvailableQuantity: 0, ReservedItems: 3, Version: 1}, s.store.product("pear"))
}

func (s *InventoryEngineSuite) TestReserveRejectDoesNotMutate() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4), item("pear", 4)))

	s.Equal(sagaevent.StatusReject, s.lastOutcome().Status)
	s.Equal(int32(10), s.store.product("apple").AvailableQuantity)
	s.Equal(int32(0), s.store.product("apple").ReservedItems)
}

func (s *InventoryEngineSuite) TestDuplicateLinesAggregated() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("pear", 2), item("pear", 2)))
	s.Equal(sagaevent.StatusReject, s.lastOutcome().Status)
	s.Equal(int32(3), s.store.product("pear").AvailableQuantity)
}

func (s *InventoryEngineSuite) TestMissingProductDropped() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 1), item("ghost", 1)))

	s.Empty(s.publisher.events)
	s.Equal(int32(10), s.store.product("apple").AvailableQuantity)
	s.Empty(s.store.processed)
}

func (s *InventoryEngineSuite) TestConfirmReleasesReservedOnly() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4)))
	s.handle(order(1, sagaevent.StatusConfirmed, sagaevent.SourceNone, item("apple", 4)))

	p := s.store.product("apple")
	s.Equal(int32(6), p.AvailableQuantity)
	s.Equal(int32(0), p.ReservedItems)
	s.Len(s.publisher.events, 1, "confirm does not publish")
}

func (s *InventoryEngineSuite) TestRollbackFromPaymentRestoresStock() {
	// 场景 3：支付拒绝、库存接受 → ROLLBACK/PAYMENT，库存还原
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4)))
	s.handle(order(1, sagaevent.StatusRollback, sagaevent.SourcePayment, item("apple", 4)))

	p := s.store.product("apple")
	s.Equal(int32(10), p.AvailableQuantity)
	s.Equal(int32(0), p.ReservedItems)
}

func (s *InventoryEngineSuite) TestRollbackFromSelfIsNoop() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("pear", 9)))
	s.handle(order(1, sagaevent.StatusRollback, sagaevent.SourceInventory, item("pear", 9)))

	s.Equal(int32(3), s.store.product("pear").AvailableQuantity)
	_, ok := s.store.processed[processedKey{1, sagaevent.PhaseRollback}]
	s.False(ok)
}

func (s *InventoryEngineSuite) TestIgnoredStatuses() {
	for _, st := range []sagaevent.Status{sagaevent.StatusAccept, sagaevent.StatusReject, sagaevent.StatusRejected} {
		s.handle(order(1, st, sagaevent.SourceInventory, item("apple", 1)))
	}
	s.Empty(s.publisher.events)
	s.Equal(int32(10), s.store.product("apple").AvailableQuantity)
}

func (s *InventoryEngineSuite) TestReplayedNewOrderDoesNotDoubleReserve() {
	// 场景 5：重发任务重复投递同一 NEW 订单
	ev := order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4))
	s.handle(ev)
	s.handle(ev)

	s.Equal(int32(6), s.store.product("apple").AvailableQuantity)
	s.Equal(int32(4), s.store.product("apple").ReservedItems)
	s.Require().Len(s.publisher.events, 2)
	s.Equal(s.publisher.events[0].Status, s.publisher.events[1].Status)
}

func (s *InventoryEngineSuite) TestReplayedReleaseIsIdempotent() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4)))
	rb := order(1, sagaevent.StatusRollback, sagaevent.SourcePayment, item("apple", 4))
	s.handle(rb)
	s.handle(rb)

	s.Equal(int32(10), s.store.product("apple").AvailableQuantity)
	s.Equal(int32(0), s.store.product("apple").ReservedItems)
}

func (s *InventoryEngineSuite) TestReleaseWithoutReservationSkipped() {
	// 库存拒绝后收到 CONFIRMED（不应发生），不能把预占扣成负数
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("pear", 9)))
	s.handle(order(1, sagaevent.StatusConfirmed, sagaevent.SourceNone, item("pear", 9)))

	p := s.store.product("pear")
	s.Equal(int32(3), p.AvailableQuantity)
	s.Equal(int32(0), p.ReservedItems)
}

func (s *InventoryEngineSuite) TestUnknownProductSkippedOnRelease() {
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 2)))
	s.handle(order(1, sagaevent.StatusConfirmed, sagaevent.SourceNone, item("apple", 2), item("ghost", 1)))
	s.Equal(int32(0), s.store.product("apple").ReservedItems)
}

func (s *InventoryEngineSuite) TestOptimisticConflictRetried() {
	s.store.conflicts = 2
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4)))

	s.Equal(sagaevent.StatusAccept, s.lastOutcome().Status)
	s.Equal(int32(6), s.store.product("apple").AvailableQuantity)
}

func (s *InventoryEngineSuite) TestConflictRetriesExhausted() {
	s.store.conflicts = 10
	err := s.engine.Handle(context.Background(), order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4)))
	s.ErrorIs(err, domain.ErrOptimisticLock)
	s.Empty(s.publisher.events)
	s.Equal(int32(10), s.store.product("apple").AvailableQuantity)
}

func (s *InventoryEngineSuite) TestPublishFailureRepublishedOnRetry() {
	ev := order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 4))
	s.publisher.err = errors.New("broker down")
	s.Error(s.engine.Handle(context.Background(), ev))

	s.publisher.err = nil
	s.handle(ev)
	s.Equal(sagaevent.StatusAccept, s.lastOutcome().Status)
	s.Equal(int32(4), s.store.product("apple").ReservedItems)
}

func (s *InventoryEngineSuite) TestConservationAcrossCycle() {
	total := func() int32 {
		p := s.store.product("apple")
		return p.AvailableQuantity + p.ReservedItems
	}
	before := total()

	// reserve → rollback 保持总量
	s.handle(order(1, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 3)))
	s.Equal(before, total())
	s.handle(order(1, sagaevent.StatusRollback, sagaevent.SourcePayment, item("apple", 3)))
	s.Equal(before, total())

	// reserve → confirm 只移除预占部分
	s.handle(order(2, sagaevent.StatusNew, sagaevent.SourceNone, item("apple", 5)))
	s.Equal(before, total())
	s.handle(order(2, sagaevent.StatusConfirmed, sagaevent.SourceNone, item("apple", 5)))
	s.Equal(before-5, total())

	p := s.store.product("apple")
	s.GreaterOrEqual(p.AvailableQuantity, int32(0))
	s.GreaterOrEqual(p.ReservedItems, int32(0))
}

func TestInventoryEngineSuite(t *testing.T) {
	suite.Run(t, new(InventoryEngineSuite))
}
