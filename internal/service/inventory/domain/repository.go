// internal/service/inventory/domain/repository.go
package domain

import (
	"context"

	"ordersaga/internal/pkg/sagaevent"
)

// Store 提供单个本地事务，库存变更与去重标记在同一事务内提交。
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx 是事务内的仓储操作。
type Tx interface {
	// FindProducts 批量读取，不存在的编码不返回。
	FindProducts(ctx context.Context, codes []string) ([]*Product, error)
	// SaveProducts 按版本号条件写回，任一行版本不匹配返回 ErrOptimisticLock。
	SaveProducts(ctx context.Context, products []*Product) error
	// Processed 查询订单在某阶段记录的结果。
	Processed(ctx context.Context, orderID int64, phase sagaevent.Phase) (sagaevent.Status, bool, error)
	// MarkProcessed 写入去重标记；标记已存在时返回 ErrOptimisticLock。
	MarkProcessed(ctx context.Context, orderID int64, phase sagaevent.Phase, status sagaevent.Status) error
}
