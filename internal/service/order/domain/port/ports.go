// internal/service/order/domain/port/ports.go
package port

import (
	"context"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/domain"
)

// CatalogService 是商品目录的出站端口
type CatalogService interface {
	// ProductsExist 判断所有编码是否都存在；目录不可用时由实现决定降级结果。
	ProductsExist(ctx context.Context, codes []string) (bool, error)
}

// OrderPublisher 把订单事件发布到 orders 主题，以 orderId 为 key
type OrderPublisher interface {
	Publish(ctx context.Context, event *sagaevent.OrderEvent) error
}

// AdmissionPolicy 在订单落库前做准入判断
type AdmissionPolicy interface {
	Admit(ctx context.Context, order *domain.Order) (bool, error)
}

// Locker 是跨副本的互斥锁
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}
