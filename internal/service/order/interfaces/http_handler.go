// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/service/order/application"
	"ordersaga/internal/service/order/domain"
)

// OrderService 是 HTTP 层依赖的应用服务能力
type OrderService interface {
	CreateOrder(ctx context.Context, req *application.CreateOrderRequest) (*domain.Order, error)
	SaveBatchOrders(ctx context.Context, reqs []*application.CreateOrderRequest) ([]*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
}

// OrderHandler 封装了 order 服务的 HTTP 处理器
type OrderHandler struct {
	service OrderService
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", h.createOrder)
	mux.HandleFunc("POST /orders/batch", h.createBatch)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	order, err := h.service.CreateOrder(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	// 订单立即以 NEW 返回，客户端轮询 GET /orders/{id} 获取最终状态
	writeJSON(w, http.StatusCreated, application.ToOrderResponse(order))
}

func (h *OrderHandler) createBatch(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var reqs []*application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	orders, err := h.service.SaveBatchOrders(ctx, reqs)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	resp := make([]*application.OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, application.ToOrderResponse(o))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	order, err := h.service.GetOrder(ctx, id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToOrderResponse(order))
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrRejectedByPolicy):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("order request failed")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
