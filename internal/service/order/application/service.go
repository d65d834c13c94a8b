// internal/service/order/application/service.go
package application

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/service/order/domain"
	"ordersaga/internal/service/order/domain/port"
)

// batchCheckConcurrency 限制批量下单时并发的目录服务调用数
const batchCheckConcurrency = 8

// RetryOptions 控制 NEW 订单重发的范围。
type RetryOptions struct {
	StaleAfter time.Duration
	BatchSize  int
}

// OrderApplicationService 负责下单、批量下单与 NEW 订单重发。
type OrderApplicationService struct {
	orderRepo domain.OrderRepository
	catalog   port.CatalogService
	publisher port.OrderPublisher
	admission port.AdmissionPolicy // 可为 nil
	tracer    trace.Tracer
	retry     RetryOptions

	// retryCursor 是上一批重发的最大 id，不足一批时回到 0 从头扫描
	retryMu     sync.Mutex
	retryCursor int64

	now func() time.Time
}

func NewOrderApplicationService(orderRepo domain.OrderRepository, catalog port.CatalogService, publisher port.OrderPublisher, admission port.AdmissionPolicy, tracer trace.Tracer, retry RetryOptions) *OrderApplicationService {
	if retry.BatchSize <= 0 {
		retry.BatchSize = 100
	}
	return &OrderApplicationService{
		orderRepo: orderRepo,
		catalog:   catalog,
		publisher: publisher,
		admission: admission,
		tracer:    tracer,
		retry:     retry,
		now:       time.Now,
	}
}

// CreateOrder 校验并持久化一个 NEW 订单，然后发布到 orders 主题。
// 发布失败只记录并计数，订单仍然返回，由重发任务兜底。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("customer.id", req.CustomerID))

	order, err := s.prepare(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Order validation failed")
		return nil, err
	}

	if err := s.orderRepo.Save(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save order")
		return nil, errors.Wrap(err, "save order")
	}
	metrics.OrdersCreated.Inc()
	span.SetAttributes(attribute.Int64("order.id", order.ID))
	span.AddEvent("Order saved with NEW state.")

	s.publish(ctx, order)
	return order, nil
}

// SaveBatchOrders 校验全部请求，然后一次批量写入，再逐个发布。
// 任一请求校验失败时整批都不落库。
func (s *OrderApplicationService) SaveBatchOrders(ctx context.Context, reqs []*CreateOrderRequest) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.SaveBatchOrders")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(reqs)))

	if len(reqs) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidOrder, "empty batch")
	}

	// 并发校验，保持请求顺序；任一失败取消其余调用
	orders := make([]*domain.Order, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchCheckConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			order, err := s.prepare(gctx, req)
			if err != nil {
				return errors.Wrapf(err, "request %d", i)
			}
			orders[i] = order
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Batch validation failed")
		return nil, err
	}

	if err := s.orderRepo.SaveAll(ctx, orders); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save batch")
		return nil, errors.Wrap(err, "save batch orders")
	}
	metrics.OrdersCreated.Add(float64(len(orders)))

	for _, order := range orders {
		s.publish(ctx, order)
	}
	logger.Ctx(ctx).Info().Int("count", len(orders)).Msg("✅ Batch orders saved and published")
	return orders, nil
}

// RetryNewOrders 重发创建时间超过阈值仍为 NEW 的订单，每次最多一批，返回已重发的数量。
func (s *OrderApplicationService) RetryNewOrders(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.RetryNewOrders")
	defer span.End()

	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	cutoff := s.now().Add(-s.retry.StaleAfter)
	stale, err := s.orderRepo.FindNewCreatedBefore(ctx, cutoff, s.retryCursor, s.retry.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to query stale orders")
		return 0, errors.Wrap(err, "find stale NEW orders")
	}
	// 长期卡在 NEW 的订单不能一直占满批次，按 id 游标轮转
	if len(stale) < s.retry.BatchSize {
		s.retryCursor = 0
	} else {
		s.retryCursor = stale[len(stale)-1].ID
	}
	span.SetAttributes(attribute.Int64("retry.cursor", s.retryCursor))

	republished := 0
	for _, order := range stale {
		if err := s.publisher.Publish(ctx, order.ToEvent()); err != nil {
			metrics.OrderPublishFailures.Inc()
			logger.Ctx(ctx).Error().Err(err).Int64("order_id", order.ID).Msg("failed to re-publish stale order")
			continue
		}
		republished++
	}
	metrics.OrdersRepublished.Add(float64(republished))
	span.SetAttributes(attribute.Int("orders.stale", len(stale)), attribute.Int("orders.republished", republished))

	if len(stale) > 0 {
		logger.Ctx(ctx).Info().Int("stale", len(stale)).Int("republished", republished).
			Msg("🔁 Stale NEW orders re-published")
	}
	return republished, nil
}

// GetOrder 供客户端轮询订单的最终状态。
func (s *OrderApplicationService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", id))

	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return order, nil
}

// prepare 构造订单并依次执行准入规则与商品存在性检查。
func (s *OrderApplicationService) prepare(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	if req == nil {
		return nil, errors.Wrap(domain.ErrInvalidOrder, "nil request")
	}
	order, err := domain.NewOrder(req.CustomerID, req.toItems(), s.now())
	if err != nil {
		return nil, err
	}

	if s.admission != nil {
		ok, err := s.admission.Admit(ctx, order)
		if err != nil {
			return nil, errors.Wrap(err, "evaluate admission rule")
		}
		if !ok {
			return nil, errors.Wrapf(domain.ErrRejectedByPolicy, "customer %d", order.CustomerID)
		}
	}

	productCodes := order.ProductCodes()
	exists, err := s.catalog.ProductsExist(ctx, productCodes)
	if err != nil {
		return nil, errors.Wrap(err, "check products exist")
	}
	if !exists {
		return nil, errors.Wrapf(domain.ErrProductNotFound, "codes %v", productCodes)
	}
	return order, nil
}

func (s *OrderApplicationService) publish(ctx context.Context, order *domain.Order) {
	if err := s.publisher.Publish(ctx, order.ToEvent()); err != nil {
		metrics.OrderPublishFailures.Inc()
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", order.ID).
			Msg("failed to publish new order, retry job will pick it up")
		return
	}
	logger.Ctx(ctx).Info().
		Int64("order_id", order.ID).
		Int64("customer_id", order.CustomerID).
		Msg("Order published to orders topic")
}
