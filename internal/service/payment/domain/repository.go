// internal/service/payment/domain/repository.go
package domain

import (
	"context"

	"ordersaga/internal/pkg/sagaevent"
)

// Store 在一个本地事务内执行 fn，fn 返回错误时整体回滚
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx 是事务内可用的操作
type Tx interface {
	// FindCustomer 找不到时返回 ErrCustomerNotFound
	FindCustomer(ctx context.Context, id int64) (*Customer, error)
	// SaveCustomer 按版本号更新，冲突时返回 ErrOptimisticLock
	SaveCustomer(ctx context.Context, customer *Customer) error
	Processed(ctx context.Context, orderID int64, phase sagaevent.Phase) (sagaevent.Status, bool, error)
	MarkProcessed(ctx context.Context, orderID int64, phase sagaevent.Phase, status sagaevent.Status) error
}
