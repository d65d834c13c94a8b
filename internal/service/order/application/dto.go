// internal/service/order/application/dto.go
package application

import (
	"time"

	"github.com/shopspring/decimal"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/domain"
)

// OrderItemRequest 是下单请求中的一行
type OrderItemRequest struct {
	ProductCode string          `json:"productCode"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	CustomerID int64              `json:"customerId"`
	Items      []OrderItemRequest `json:"items"`
}

// OrderResponse 是订单用例的输出数据
type OrderResponse struct {
	OrderID    int64              `json:"orderId"`
	CustomerID int64              `json:"customerId"`
	Status     sagaevent.Status   `json:"status"`
	Source     sagaevent.Source   `json:"source"`
	Items      []OrderItemRequest `json:"items"`
	TotalPrice decimal.Decimal    `json:"totalPrice"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func (req *CreateOrderRequest) toItems() []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{
			ProductCode: it.ProductCode,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return items
}

// ToOrderResponse 从领域对象转换为输出 DTO
func ToOrderResponse(o *domain.Order) *OrderResponse {
	items := make([]OrderItemRequest, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemRequest{
			ProductCode: it.ProductCode,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return &OrderResponse{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Source:     o.Source,
		Items:      items,
		TotalPrice: o.TotalPrice(),
		CreatedAt:  o.CreatedAt,
	}
}
