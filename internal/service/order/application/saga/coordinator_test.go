package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/domain"
)

// fakeOrderRepo 只实现协调器用到的状态更新，其他方法满足接口即可
type fakeOrderRepo struct {
	mu        sync.Mutex
	statuses  map[int64]sagaevent.Status
	sources   map[int64]sagaevent.Source
	updateErr error
}

func newFakeOrderRepo(ids ...int64) *fakeOrderRepo {
	r := &fakeOrderRepo{statuses: map[int64]sagaevent.Status{}, sources: map[int64]sagaevent.Source{}}
	for _, id := range ids {
		r.statuses[id] = sagaevent.StatusNew
	}
	return r
}

func (r *fakeOrderRepo) Save(ctx context.Context, order *domain.Order) error       { return nil }
func (r *fakeOrderRepo) SaveAll(ctx context.Context, orders []*domain.Order) error { return nil }
func (r *fakeOrderRepo) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &domain.Order{ID: id, CustomerID: 9, Status: st, Source: r.sources[id]}, nil
}
func (r *fakeOrderRepo) FindNewCreatedBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*domain.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) UpdateStatusIfNew(ctx context.Context, id int64, status sagaevent.Status, source sagaevent.Source) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return false, r.updateErr
	}
	if r.statuses[id] != sagaevent.StatusNew {
		return false, nil
	}
	r.statuses[id] = status
	r.sources[id] = source
	return true, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	events    []*sagaevent.OrderEvent
	failTimes int
}

func (p *recordingPublisher) Publish(ctx context.Context, e *sagaevent.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTimes > 0 {
		p.failTimes--
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, e)
	return nil
}

type CoordinatorSuite struct {
	suite.Suite
	repo        *fakeOrderRepo
	publisher   *recordingPublisher
	coordinator *Coordinator
}

func (s *CoordinatorSuite) SetupTest() {
	s.repo = newFakeOrderRepo(1)
	s.publisher = &recordingPublisher{}
	s.coordinator = NewCoordinator(NewMemoryJoinStore(time.Minute), s.repo, s.publisher, noop.NewTracerProvider().Tracer("test"), 3, time.Millisecond)
}

func (s *CoordinatorSuite) deliver(payment, stock sagaevent.Status) {
	ctx := context.Background()
	s.Require().NoError(s.coordinator.HandleOutcome(ctx, sagaevent.SourcePayment, outcome(1, payment, sagaevent.SourcePayment)))
	s.Require().NoError(s.coordinator.HandleOutcome(ctx, sagaevent.SourceInventory, outcome(1, stock, sagaevent.SourceInventory)))
}

func (s *CoordinatorSuite) TestScenarios() {
	cases := []struct {
		payment, stock sagaevent.Status
		status         sagaevent.Status
		source         sagaevent.Source
	}{
		{sagaevent.StatusAccept, sagaevent.StatusAccept, sagaevent.StatusConfirmed, sagaevent.SourceNone},
		{sagaevent.StatusAccept, sagaevent.StatusReject, sagaevent.StatusRollback, sagaevent.SourceInventory},
		{sagaevent.StatusReject, sagaevent.StatusAccept, sagaevent.StatusRollback, sagaevent.SourcePayment},
		{sagaevent.StatusReject, sagaevent.StatusReject, sagaevent.StatusRejected, sagaevent.SourceInventory},
	}
	for _, tc := range cases {
		s.SetupTest()
		s.deliver(tc.payment, tc.stock)

		s.Equal(tc.status, s.repo.statuses[1])
		s.Equal(tc.source, s.repo.sources[1])
		s.Require().Len(s.publisher.events, 1)
		s.Equal(tc.status, s.publisher.events[0].Status)
		s.Equal(tc.source, s.publisher.events[0].Source)
		s.Equal(int64(1), s.publisher.events[0].OrderID)
	}
}

func (s *CoordinatorSuite) TestSingleOutcomeWaits() {
	err := s.coordinator.HandleOutcome(context.Background(), sagaevent.SourcePayment, outcome(1, sagaevent.StatusAccept, sagaevent.SourcePayment))
	s.Require().NoError(err)
	s.Equal(sagaevent.StatusNew, s.repo.statuses[1])
	s.Empty(s.publisher.events)
}

func (s *CoordinatorSuite) TestReplayOfTerminalOrderRepublishesStoredDecision() {
	s.deliver(sagaevent.StatusAccept, sagaevent.StatusReject)
	s.Require().Len(s.publisher.events, 1)

	// 新的协调器实例（例如重启后）再次收到同一对结果
	s.coordinator = NewCoordinator(NewMemoryJoinStore(time.Minute), s.repo, s.publisher, noop.NewTracerProvider().Tracer("test"), 3, time.Millisecond)
	s.deliver(sagaevent.StatusAccept, sagaevent.StatusReject)

	s.Require().Len(s.publisher.events, 2)
	s.Equal(sagaevent.StatusRollback, s.publisher.events[1].Status)
	s.Equal(sagaevent.SourceInventory, s.publisher.events[1].Source)
	s.Equal(sagaevent.StatusRollback, s.repo.statuses[1])
}

func (s *CoordinatorSuite) TestReplayOfRejectedOrderNotRepublished() {
	s.deliver(sagaevent.StatusReject, sagaevent.StatusReject)

	s.coordinator = NewCoordinator(NewMemoryJoinStore(time.Minute), s.repo, s.publisher, noop.NewTracerProvider().Tracer("test"), 3, time.Millisecond)
	s.deliver(sagaevent.StatusReject, sagaevent.StatusReject)

	s.Len(s.publisher.events, 1)
}

func (s *CoordinatorSuite) TestOutcomeForUnknownOrderDropped() {
	ctx := context.Background()
	s.Require().NoError(s.coordinator.HandleOutcome(ctx, sagaevent.SourcePayment, outcome(42, sagaevent.StatusAccept, sagaevent.SourcePayment)))
	s.Require().NoError(s.coordinator.HandleOutcome(ctx, sagaevent.SourceInventory, outcome(42, sagaevent.StatusAccept, sagaevent.SourceInventory)))
	s.Empty(s.publisher.events)
}

func (s *CoordinatorSuite) TestPersistFailureReopensJoin() {
	ctx := context.Background()
	s.Require().NoError(s.coordinator.HandleOutcome(ctx, sagaevent.SourcePayment, outcome(1, sagaevent.StatusAccept, sagaevent.SourcePayment)))

	s.repo.updateErr = errors.New("db down")
	stock := outcome(1, sagaevent.StatusAccept, sagaevent.SourceInventory)
	s.Require().Error(s.coordinator.HandleOutcome(ctx, sagaevent.SourceInventory, stock))
	s.Empty(s.publisher.events)

	// 消费者重试同一条消息
	s.repo.updateErr = nil
	s.Require().NoError(s.coordinator.HandleOutcome(ctx, sagaevent.SourceInventory, stock))
	s.Equal(sagaevent.StatusConfirmed, s.repo.statuses[1])
	s.Len(s.publisher.events, 1)
}

func (s *CoordinatorSuite) TestPublishRetriedInProcess() {
	s.publisher.failTimes = 2
	s.deliver(sagaevent.StatusAccept, sagaevent.StatusAccept)
	s.Len(s.publisher.events, 1)
}

func (s *CoordinatorSuite) TestUnknownOutcomeRejected() {
	err := s.coordinator.HandleOutcome(context.Background(), sagaevent.SourcePayment, outcome(1, sagaevent.StatusConfirmed, sagaevent.SourcePayment))
	s.ErrorIs(err, ErrUnknownOutcome)
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func TestCoordinator_PublishExhaustedThenRedelivered(t *testing.T) {
	repo := newFakeOrderRepo(1)
	publisher := &recordingPublisher{failTimes: 2}
	c := NewCoordinator(NewMemoryJoinStore(time.Minute), repo, publisher, noop.NewTracerProvider().Tracer("test"), 2, time.Millisecond)

	ctx := context.Background()
	stock := outcome(1, sagaevent.StatusAccept, sagaevent.SourceInventory)
	require.NoError(t, c.HandleOutcome(ctx, sagaevent.SourcePayment, outcome(1, sagaevent.StatusAccept, sagaevent.SourcePayment)))
	err := c.HandleOutcome(ctx, sagaevent.SourceInventory, stock)
	require.Error(t, err, "exhausted publish must surface so the consumer retries or dead-letters")
	assert.Equal(t, sagaevent.StatusConfirmed, repo.statuses[1])
	assert.Empty(t, publisher.events)

	// 消费者重投递同一条库存结果，决定从订单表重发
	require.NoError(t, c.HandleOutcome(ctx, sagaevent.SourceInventory, stock))
	require.Len(t, publisher.events, 1)
	assert.Equal(t, sagaevent.StatusConfirmed, publisher.events[0].Status)
	assert.Equal(t, int64(1), publisher.events[0].OrderID)
}
