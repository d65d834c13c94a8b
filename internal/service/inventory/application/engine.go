// internal/service/inventory/application/engine.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/inventory/domain"
)

const leg = "inventory"

// OutcomePublisher 把库存腿的结果发布到 stock-orders
type OutcomePublisher interface {
	Publish(ctx context.Context, event *sagaevent.OrderEvent) error
}

// ReservationEngine 是库存腿的状态机：NEW 时预占，CONFIRMED / ROLLBACK 时释放。
type ReservationEngine struct {
	store     domain.Store
	publisher OutcomePublisher
	tracer    trace.Tracer

	maxConflictRetries int
	conflictBackoff    time.Duration
}

func NewReservationEngine(store domain.Store, publisher OutcomePublisher, tracer trace.Tracer, maxConflictRetries int) *ReservationEngine {
	return &ReservationEngine{
		store:              store,
		publisher:          publisher,
		tracer:             tracer,
		maxConflictRetries: maxConflictRetries,
		conflictBackoff:    10 * time.Millisecond,
	}
}

// Handle 处理 orders 主题上的一条事件。
func (e *ReservationEngine) Handle(ctx context.Context, ev *sagaevent.OrderEvent) error {
	ctx, span := e.tracer.Start(ctx, "inventory.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", ev.OrderID),
		attribute.String("order.status", string(ev.Status)),
		attribute.String("order.source", string(ev.Source)),
	)

	var err error
	switch {
	case ev.Status == sagaevent.StatusNew:
		err = e.reserve(ctx, ev)
	case ev.Status == sagaevent.StatusConfirmed:
		err = e.release(ctx, ev, sagaevent.PhaseConfirm)
	case ev.Status == sagaevent.StatusRollback && ev.Source != sagaevent.SourceInventory:
		err = e.release(ctx, ev, sagaevent.PhaseRollback)
	default:
		// 自己拒绝的 ROLLBACK、REJECTED 以及腿结果都不需要处理
		logger.Ctx(ctx).Debug().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).
			Str("source", string(ev.Source)).Msg("event ignored by inventory leg")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *ReservationEngine) reserve(ctx context.Context, ev *sagaevent.OrderEvent) error {
	var (
		outcome *sagaevent.OrderEvent
		replay  bool
	)
	err := e.retryOnConflict(ctx, func() error {
		outcome, replay = nil, false
		return e.store.Transaction(ctx, func(tx domain.Tx) error {
			// 1. 去重：已经预占过的订单只重发记录的结果
			recorded, found, err := tx.Processed(ctx, ev.OrderID, sagaevent.PhaseReserve)
			if err != nil {
				return err
			}
			if found {
				outcome, replay = ev.WithOutcome(recorded, sagaevent.SourceInventory), true
				return nil
			}

			// 2. 一次批量读取所有商品
			codes := ev.ProductCodes()
			products, err := tx.FindProducts(ctx, codes)
			if err != nil {
				return err
			}
			if len(products) < len(codes) {
				metrics.LegAnomalies.WithLabelValues(leg, "product_missing").Inc()
				logger.Ctx(ctx).Error().Int64("order_id", ev.OrderID).Strs("codes", codes).Int("found", len(products)).
					Msg("🚨 not all products found, order dropped without outcome")
				return nil
			}
			byCode := indexProducts(products)
			quantities := ev.QuantitiesByProduct()

			// 3. 先全部校验，再统一修改
			status := sagaevent.StatusAccept
			for code, qty := range quantities {
				if !byCode[code].CanReserve(qty) {
					status = sagaevent.StatusReject
					break
				}
			}
			if status == sagaevent.StatusAccept {
				for code, qty := range quantities {
					if err := byCode[code].Reserve(qty); err != nil {
						return err
					}
				}
				if err := tx.SaveProducts(ctx, products); err != nil {
					return err
				}
			}
			if err := tx.MarkProcessed(ctx, ev.OrderID, sagaevent.PhaseReserve, status); err != nil {
				return err
			}
			outcome = ev.WithOutcome(status, sagaevent.SourceInventory)
			return nil
		})
	})
	if err != nil {
		return errors.Wrapf(err, "reserve stock for order %d", ev.OrderID)
	}
	if outcome == nil {
		return nil
	}

	// 事务提交后再发布；发布失败返回错误，重试时走去重分支重发
	if err := e.publisher.Publish(ctx, outcome); err != nil {
		return errors.Wrapf(err, "publish inventory outcome for order %d", ev.OrderID)
	}
	metrics.LegOutcomes.WithLabelValues(leg, string(outcome.Status)).Inc()
	logger.Ctx(ctx).Info().
		Int64("order_id", ev.OrderID).
		Str("status", string(outcome.Status)).
		Bool("replay", replay).
		Msg("Inventory outcome published")
	return nil
}

func (e *ReservationEngine) release(ctx context.Context, ev *sagaevent.OrderEvent, phase sagaevent.Phase) error {
	err := e.retryOnConflict(ctx, func() error {
		return e.store.Transaction(ctx, func(tx domain.Tx) error {
			if _, done, err := tx.Processed(ctx, ev.OrderID, phase); err != nil || done {
				return err
			}
			reserved, found, err := tx.Processed(ctx, ev.OrderID, sagaevent.PhaseReserve)
			if err != nil {
				return err
			}
			if !found || reserved != sagaevent.StatusAccept {
				// 没有成功预占过，没有需要释放的库存
				metrics.LegAnomalies.WithLabelValues(leg, "release_without_reservation").Inc()
				logger.Ctx(ctx).Warn().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).
					Msg("⚠️ release signal without an accepted reservation, skipped")
				return tx.MarkProcessed(ctx, ev.OrderID, phase, ev.Status)
			}

			products, err := tx.FindProducts(ctx, ev.ProductCodes())
			if err != nil {
				return err
			}
			byCode := indexProducts(products)
			for code, qty := range ev.QuantitiesByProduct() {
				p, ok := byCode[code]
				if !ok {
					// 本地不存在的商品跳过
					continue
				}
				var released int32
				if phase == sagaevent.PhaseConfirm {
					released = p.Confirm(qty)
				} else {
					released = p.Rollback(qty)
				}
				if released < qty {
					metrics.LegAnomalies.WithLabelValues(leg, "reserved_underflow").Inc()
					logger.Ctx(ctx).Warn().Int64("order_id", ev.OrderID).Str("product", code).
						Int32("requested", qty).Int32("released", released).Msg("⚠️ reserved items lower than release amount")
				}
			}
			if err := tx.SaveProducts(ctx, products); err != nil {
				return err
			}
			return tx.MarkProcessed(ctx, ev.OrderID, phase, ev.Status)
		})
	})
	if err != nil {
		return errors.Wrapf(err, "%s stock for order %d", phase, ev.OrderID)
	}
	logger.Ctx(ctx).Info().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).Msg("Inventory reservation finalized")
	return nil
}

// retryOnConflict 在乐观锁冲突时重新执行整个事务。
func (e *ReservationEngine) retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= e.maxConflictRetries; attempt++ {
		if err = fn(); !errors.Is(err, domain.ErrOptimisticLock) {
			return err
		}
		logger.Ctx(ctx).Debug().Int("attempt", attempt+1).Msg("optimistic lock conflict, retrying transaction")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * e.conflictBackoff):
		}
	}
	return err
}

func indexProducts(products []*domain.Product) map[string]*domain.Product {
	byCode := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		byCode[p.Code] = p
	}
	return byCode
}
