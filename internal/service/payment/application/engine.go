// internal/service/payment/application/engine.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/payment/domain"
)

const leg = "payment"

// OutcomePublisher 把支付腿的结果发布到 payment-orders
type OutcomePublisher interface {
	Publish(ctx context.Context, event *sagaevent.OrderEvent) error
}

// ReservationEngine 负责客户余额的预占与释放
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

func (e *ReservationEngine) Handle(ctx context.Context, ev *sagaevent.OrderEvent) error {
	ctx, span := e.tracer.Start(ctx, "payment.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", ev.OrderID),
		attribute.Int64("customer.id", ev.CustomerID),
		attribute.String("order.status", string(ev.Status)),
	)

	var err error
	switch {
	case ev.Status == sagaevent.StatusNew:
		err = e.reserve(ctx, ev)
	case ev.Status == sagaevent.StatusConfirmed:
		err = e.release(ctx, ev, sagaevent.PhaseConfirm)
	case ev.Status == sagaevent.StatusRollback && ev.Source != sagaevent.SourcePayment:
		err = e.release(ctx, ev, sagaevent.PhaseRollback)
	default:
		logger.Ctx(ctx).Debug().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).
			Str("source", string(ev.Source)).Msg("event ignored by payment leg")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *ReservationEngine) reserve(ctx context.Context, ev *sagaevent.OrderEvent) error {
	total := domain.RoundAmount(ev.TotalPrice())
	var (
		outcome *sagaevent.OrderEvent
		replay  bool
	)
	err := e.retryOnConflict(ctx, func() error {
		outcome, replay = nil, false
		return e.store.Transaction(ctx, func(tx domain.Tx) error {
			recorded, found, err := tx.Processed(ctx, ev.OrderID, sagaevent.PhaseReserve)
			if err != nil {
				return err
			}
			if found {
				outcome, replay = ev.WithOutcome(recorded, sagaevent.SourcePayment), true
				return nil
			}

			customer, err := tx.FindCustomer(ctx, ev.CustomerID)
			if err != nil {
				return err
			}
			status := sagaevent.StatusReject
			if customer.CanReserve(total) {
				if err := customer.Reserve(total); err != nil {
					return err
				}
				if err := tx.SaveCustomer(ctx, customer); err != nil {
					return err
				}
				status = sagaevent.StatusAccept
			}
			if err := tx.MarkProcessed(ctx, ev.OrderID, sagaevent.PhaseReserve, status); err != nil {
				return err
			}
			outcome = ev.WithOutcome(status, sagaevent.SourcePayment)
			return nil
		})
	})
	if err != nil {
		return errors.Wrapf(err, "reserve funds for order %d", ev.OrderID)
	}

	if err := e.publisher.Publish(ctx, outcome); err != nil {
		return errors.Wrapf(err, "publish payment outcome for order %d", ev.OrderID)
	}
	metrics.LegOutcomes.WithLabelValues(leg, string(outcome.Status)).Inc()
	logger.Ctx(ctx).Info().
		Int64("order_id", ev.OrderID).
		Int64("customer_id", ev.CustomerID).
		Str("amount", total.String()).
		Str("status", string(outcome.Status)).
		Bool("replay", replay).
		Msg("Payment outcome published")
	return nil
}

func (e *ReservationEngine) release(ctx context.Context, ev *sagaevent.OrderEvent, phase sagaevent.Phase) error {
	total := domain.RoundAmount(ev.TotalPrice())
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
				metrics.LegAnomalies.WithLabelValues(leg, "release_without_reservation").Inc()
				logger.Ctx(ctx).Warn().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).
					Msg("⚠️ release signal without an accepted reservation, skipped")
				return tx.MarkProcessed(ctx, ev.OrderID, phase, ev.Status)
			}

			customer, err := tx.FindCustomer(ctx, ev.CustomerID)
			if err != nil {
				return err
			}
			var released decimal.Decimal
			if phase == sagaevent.PhaseConfirm {
				released = customer.Confirm(total)
			} else {
				released = customer.Rollback(total)
			}
			if released.LessThan(total) {
				metrics.LegAnomalies.WithLabelValues(leg, "reserved_underflow").Inc()
				logger.Ctx(ctx).Warn().Int64("order_id", ev.OrderID).Int64("customer_id", ev.CustomerID).
					Str("requested", total.String()).Str("released", released.String()).
					Msg("⚠️ reserved amount lower than release amount")
			}
			if err := tx.SaveCustomer(ctx, customer); err != nil {
				return err
			}
			return tx.MarkProcessed(ctx, ev.OrderID, phase, ev.Status)
		})
	})
	if err != nil {
		return errors.Wrapf(err, "%s funds for order %d", phase, ev.OrderID)
	}
	logger.Ctx(ctx).Info().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).Msg("Payment reservation finalized")
	return nil
}

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
