package infrastructure

import (
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/domain"
)

// ToOrderModel 将领域模型转换为数据库模型
func ToOrderModel(o *domain.Order) *OrderModel {
	items := make([]OrderItemModel, 0, len(o.Items))
	for i, it := range o.Items {
		items = append(items, OrderItemModel{
			OrderID:     o.ID,
			Position:    i,
			ProductCode: it.ProductCode,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return &OrderModel{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     string(o.Status),
		Source:     string(o.Source),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
		Items:      items,
	}
}

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(m *OrderModel) *domain.Order {
	if m == nil {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, domain.OrderItem{
			ProductCode: it.ProductCode,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return &domain.Order{
		ID:         m.ID,
		CustomerID: m.CustomerID,
		Status:     sagaevent.Status(m.Status),
		Source:     sagaevent.Source(m.Source),
		Items:      items,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
