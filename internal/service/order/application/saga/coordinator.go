// internal/service/order/application/saga/coordinator.go
package saga

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
	"ordersaga/internal/service/order/domain"
	"ordersaga/internal/service/order/domain/port"
)

// Coordinator 消费两条腿的结果，配对后决定订单最终状态并发布给两条腿。
type Coordinator struct {
	join      JoinStore
	repo      domain.OrderRepository
	publisher port.OrderPublisher
	tracer    trace.Tracer

	publishAttempts int
	publishDelay    time.Duration
}

func NewCoordinator(join JoinStore, repo domain.OrderRepository, publisher port.OrderPublisher, tracer trace.Tracer, publishAttempts int, publishDelay time.Duration) *Coordinator {
	if publishAttempts < 1 {
		publishAttempts = 1
	}
	return &Coordinator{
		join:            join,
		repo:            repo,
		publisher:       publisher,
		tracer:          tracer,
		publishAttempts: publishAttempts,
		publishDelay:    publishDelay,
	}
}

// HandleOutcome 处理来自 leg 的一条结果消息。
func (c *Coordinator) HandleOutcome(ctx context.Context, leg sagaevent.Source, outcome *sagaevent.OrderEvent) error {
	ctx, span := c.tracer.Start(ctx, "saga.HandleOutcome")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", outcome.OrderID),
		attribute.String("saga.leg", string(leg)),
		attribute.String("saga.outcome", string(outcome.Status)),
	)

	if !isLegOutcome(outcome.Status) {
		err := errors.Wrapf(ErrUnknownOutcome, "order %d: %s from %s", outcome.OrderID, outcome.Status, leg)
		span.RecordError(err)
		return err
	}

	pair, err := c.join.Offer(ctx, leg, outcome)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "offer outcome to join store")
	}
	if pair == nil {
		span.AddEvent("Outcome buffered, waiting for partner leg.")
		return nil
	}

	final, err := Combine(*pair)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("saga.decision", string(final.Status)))

	updated, err := c.repo.UpdateStatusIfNew(ctx, final.OrderID, final.Status, final.Source)
	if err != nil {
		if rerr := c.join.Reopen(ctx, leg, pair); rerr != nil {
			logger.Ctx(ctx).Error().Err(rerr).Int64("order_id", final.OrderID).Msg("failed to reopen join entry")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist decision")
		return errors.Wrapf(err, "persist decision for order %d", final.OrderID)
	}
	if !updated {
		// 订单已是终态：重发已持久化的决定，两条腿按 processed 标记去重
		return c.republishStored(ctx, leg, pair, final.OrderID)
	}
	metrics.SagaDecisions.WithLabelValues(string(final.Status), sourceLabel(final.Source)).Inc()

	if err := c.publishFinal(ctx, final); err != nil {
		return c.publishFailed(ctx, span, leg, pair, final, err)
	}

	logger.Ctx(ctx).Info().
		Int64("order_id", final.OrderID).
		Int64("customer_id", final.CustomerID).
		Str("status", string(final.Status)).
		Str("source", string(final.Source)).
		Msg("✅ Saga decision published")
	return nil
}

// republishStored 处理重投递或重启后的再次配对。
// 只有 CONFIRMED / ROLLBACK 需要腿去释放预占，REJECTED 不再重发。
func (c *Coordinator) republishStored(ctx context.Context, leg sagaevent.Source, pair *Pair, orderID int64) error {
	span := trace.SpanFromContext(ctx)
	order, err := c.repo.FindByID(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Ctx(ctx).Warn().Int64("order_id", orderID).Msg("⚠️ outcome for unknown order, dropped")
		return nil
	}
	if err != nil {
		if rerr := c.join.Reopen(ctx, leg, pair); rerr != nil {
			logger.Ctx(ctx).Error().Err(rerr).Int64("order_id", orderID).Msg("failed to reopen join entry")
		}
		span.RecordError(err)
		return errors.Wrapf(err, "load order %d", orderID)
	}
	if order.Status != sagaevent.StatusConfirmed && order.Status != sagaevent.StatusRollback {
		logger.Ctx(ctx).Info().Int64("order_id", orderID).Str("status", string(order.Status)).
			Msg("order already decided, nothing to re-publish")
		span.AddEvent("Idempotent replay skipped.")
		return nil
	}

	stored := order.ToEvent()
	if err := c.publishFinal(ctx, stored); err != nil {
		return c.publishFailed(ctx, span, leg, pair, stored, err)
	}
	logger.Ctx(ctx).Info().
		Int64("order_id", orderID).
		Str("status", string(stored.Status)).
		Str("source", string(stored.Source)).
		Msg("🔁 Stored saga decision re-published")
	return nil
}

// publishFailed 恢复 join 条目并返回可重试的错误：
// 消费者重试时会再次配对并走 republishStored，重试耗尽后消息进入死信主题。
func (c *Coordinator) publishFailed(ctx context.Context, span trace.Span, leg sagaevent.Source, pair *Pair, final *sagaevent.OrderEvent, err error) error {
	metrics.OrderPublishFailures.Inc()
	if rerr := c.join.Reopen(ctx, leg, pair); rerr != nil {
		logger.Ctx(ctx).Error().Err(rerr).Int64("order_id", final.OrderID).Msg("failed to reopen join entry")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "Failed to publish decision")
	logger.Ctx(ctx).Error().Err(err).Int64("order_id", final.OrderID).Str("status", string(final.Status)).
		Msg("🚨 decision persisted but not published, outcome will be redelivered")
	return err
}

// publishFinal 在进程内按线性退避重试发布。
func (c *Coordinator) publishFinal(ctx context.Context, final *sagaevent.OrderEvent) error {
	var err error
	for attempt := 1; attempt <= c.publishAttempts; attempt++ {
		if err = c.publisher.Publish(ctx, final); err == nil {
			return nil
		}
		logger.Ctx(ctx).Warn().Err(err).Int64("order_id", final.OrderID).Int("attempt", attempt).
			Msg("publish decision failed")
		if attempt == c.publishAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish decision")
		case <-time.After(time.Duration(attempt) * c.publishDelay):
		}
	}
	return errors.Wrapf(err, "publish decision for order %d", final.OrderID)
}

func sourceLabel(s sagaevent.Source) string {
	if s == sagaevent.SourceNone {
		return "NONE"
	}
	return string(s)
}
