// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"

	"ordersaga/internal/pkg/sagaevent"
)

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Save 保存一个新订单并回填 ID。
	Save(ctx context.Context, order *Order) error

	// SaveAll 以一次批量写入保存多个新订单，每个订单回填各自的 ID。
	SaveAll(ctx context.Context, orders []*Order) error

	// FindByID 根据 ID 查找一个订单聚合，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id int64) (*Order, error)

	// FindNewCreatedBefore 按 id 升序查找 id > afterID、创建时间早于 cutoff 且仍为 NEW 的订单，最多 limit 条。
	FindNewCreatedBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*Order, error)

	// UpdateStatusIfNew 仅当订单仍为 NEW 时写入最终状态，返回是否发生了更新。
	UpdateStatusIfNew(ctx context.Context, id int64, status sagaevent.Status, source sagaevent.Source) (bool, error)
}
