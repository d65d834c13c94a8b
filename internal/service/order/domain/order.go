// internal/service/order/domain/order.go
package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"ordersaga/internal/pkg/sagaevent"
)

// OrderItem 是订单行，按值归属于订单
type OrderItem struct {
	ProductCode string
	Quantity    int32
	UnitPrice   decimal.Decimal
}

// Order 是订单聚合的根实体
type Order struct {
	ID         int64
	CustomerID int64
	Status     sagaevent.Status
	Source     sagaevent.Source // 仅 ROLLBACK / REJECTED 时有值
	Items      []OrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PriceScale 是单价允许的小数位数
const PriceScale = 2

// 工厂函数: NewOrder 校验请求并创建一个 NEW 状态的订单，ID 由仓储分配
func NewOrder(customerID int64, items []OrderItem, now time.Time) (*Order, error) {
	if customerID <= 0 {
		return nil, errors.Wrap(ErrInvalidOrder, "customerId must be positive")
	}
	if len(items) == 0 {
		return nil, errors.Wrap(ErrInvalidOrder, "order has no items")
	}
	for i, it := range items {
		switch {
		case it.ProductCode == "":
			return nil, errors.Wrapf(ErrInvalidOrder, "item %d has empty product code", i)
		case it.Quantity <= 0:
			return nil, errors.Wrapf(ErrInvalidOrder, "item %d has non-positive quantity", i)
		case it.UnitPrice.IsNegative():
			return nil, errors.Wrapf(ErrInvalidOrder, "item %d has negative price", i)
		case !it.UnitPrice.Equal(it.UnitPrice.Truncate(PriceScale)):
			// 价格列是 decimal(19,2)，更多小数位会在落库时被舍入
			return nil, errors.Wrapf(ErrInvalidOrder, "item %d price %s has more than %d decimal places", i, it.UnitPrice, PriceScale)
		}
	}

	return &Order{
		CustomerID: customerID,
		Status:     sagaevent.StatusNew,
		Items:      append([]OrderItem(nil), items...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ProductCodes 返回去重后的商品编码
func (o *Order) ProductCodes() []string {
	return o.ToEvent().ProductCodes()
}

// TotalQuantity 是所有行的数量之和
func (o *Order) TotalQuantity() int64 {
	var n int64
	for _, it := range o.Items {
		n += int64(it.Quantity)
	}
	return n
}

// TotalPrice 是 Σ quantity × unitPrice
func (o *Order) TotalPrice() decimal.Decimal {
	return o.ToEvent().TotalPrice()
}

// ToEvent 把订单转换为 orders 主题上的消息
func (o *Order) ToEvent() *sagaevent.OrderEvent {
	items := make([]sagaevent.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, sagaevent.Item{
			ProductID:    it.ProductCode,
			Quantity:     it.Quantity,
			ProductPrice: it.UnitPrice,
		})
	}
	return &sagaevent.OrderEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Source:     o.Source,
		Items:      items,
	}
}
