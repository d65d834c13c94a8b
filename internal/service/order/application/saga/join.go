// internal/service/order/application/saga/join.go
package saga

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/pkg/sagaevent"
)

// Pair 是同一订单的两条腿结果。
type Pair struct {
	Payment *sagaevent.OrderEvent
	Stock   *sagaevent.OrderEvent
}

// JoinStore 是按 orderId 的 join 缓冲区。
type JoinStore interface {
	// Offer 记录一条腿的结果。伙伴已在窗口内到达时返回配对结果（只返回一次），否则返回 nil。
	Offer(ctx context.Context, leg sagaevent.Source, outcome *sagaevent.OrderEvent) (*Pair, error)
	// Reopen 在配对后的处理失败时调用：把 leg 之外的那条结果恢复为等待状态，以便重投递的消息能再次配对。
	Reopen(ctx context.Context, leg sagaevent.Source, pair *Pair) error
}

type joinState int

const (
	stateWaiting joinState = iota
	stateJoined
)

type joinEntry struct {
	state   joinState
	payment *sagaevent.OrderEvent
	stock   *sagaevent.OrderEvent
	arrived time.Time // 第一条结果到达的时间，窗口从这里开始计算
}

// MemoryJoinStore 是进程内的 join 缓冲区，适用于单副本协调器。
type MemoryJoinStore struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[int64]*joinEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMemoryJoinStore(window time.Duration) *MemoryJoinStore {
	return &MemoryJoinStore{
		window:  window,
		now:     time.Now,
		entries: make(map[int64]*joinEntry),
	}
}

func (s *MemoryJoinStore) Offer(ctx context.Context, leg sagaevent.Source, outcome *sagaevent.OrderEvent) (*Pair, error) {
	if leg != sagaevent.SourcePayment && leg != sagaevent.SourceInventory {
		return nil, errors.Errorf("unknown leg %q", leg)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[outcome.OrderID]
	if ok && now.Sub(e.arrived) > s.window {
		s.expire(ctx, outcome.OrderID, e)
		ok = false
	}
	if !ok {
		e = &joinEntry{state: stateWaiting, arrived: now}
		e.set(leg, outcome)
		s.entries[outcome.OrderID] = e
		return nil, nil
	}

	if e.state == stateJoined {
		logger.Ctx(ctx).Debug().Int64("order_id", outcome.OrderID).Str("source", string(leg)).
			Msg("duplicate outcome for an already joined order, ignored")
		return nil, nil
	}
	if e.get(leg) != nil {
		// 同一条腿的重复结果，以最新的为准
		e.set(leg, outcome)
		return nil, nil
	}

	e.set(leg, outcome)
	e.state = stateJoined
	return &Pair{Payment: e.payment, Stock: e.stock}, nil
}

func (s *MemoryJoinStore) Reopen(ctx context.Context, leg sagaevent.Source, pair *Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := pair.Payment.OrderID
	e, ok := s.entries[id]
	if !ok {
		e = &joinEntry{arrived: s.now()}
		s.entries[id] = e
	}
	e.state = stateWaiting
	e.payment, e.stock = nil, nil
	switch leg {
	case sagaevent.SourcePayment:
		e.stock = pair.Stock
	default:
		e.payment = pair.Payment
	}
	return nil
}

// Sweep 清理超出窗口的条目；仍在等待的条目计入过期指标。
func (s *MemoryJoinStore) Sweep(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, e := range s.entries {
		if now.Sub(e.arrived) <= s.window {
			continue
		}
		if e.state == stateWaiting {
			expired++
		}
		s.expire(ctx, id, e)
	}
	return expired
}

// Len 返回当前缓冲的订单数。
func (s *MemoryJoinStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start 以窗口为周期后台清理过期条目。
func (s *MemoryJoinStore) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
	return nil
}

func (s *MemoryJoinStore) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// expire 调用时必须持有 s.mu。
func (s *MemoryJoinStore) expire(ctx context.Context, id int64, e *joinEntry) {
	delete(s.entries, id)
	if e.state != stateWaiting {
		return
	}
	metrics.SagaJoinExpired.Inc()
	logger.Ctx(ctx).Warn().Int64("order_id", id).
		Msg("⚠️ join window elapsed without partner outcome, order stays NEW until retried")
}

func (e *joinEntry) get(leg sagaevent.Source) *sagaevent.OrderEvent {
	if leg == sagaevent.SourcePayment {
		return e.payment
	}
	return e.stock
}

func (e *joinEntry) set(leg sagaevent.Source, outcome *sagaevent.OrderEvent) {
	if leg == sagaevent.SourcePayment {
		e.payment = outcome
		return
	}
	e.stock = outcome
}
