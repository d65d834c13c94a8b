// internal/service/inventory/infrastructure/gorm_store.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ordersaga/internal/pkg/database"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/inventory/domain"
)

// GormStore 是 domain.Store 的 GORM 实现
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) FindProducts(ctx context.Context, codes []string) ([]*domain.Product, error) {
	var models []ProductModel
	if err := t.db.WithContext(ctx).Where("code IN ?", codes).Find(&models).Error; err != nil {
		return nil, err
	}
	products := make([]*domain.Product, 0, len(models))
	for _, m := range models {
		products = append(products, &domain.Product{
			Code:              m.Code,
			AvailableQuantity: m.AvailableQuantity,
			ReservedItems:     m.ReservedItems,
			Version:           m.Version,
		})
	}
	return products, nil
}

// SaveProducts 逐行 UPDATE ... WHERE version = ?，全部在调用方的事务内
func (t *gormTx) SaveProducts(ctx context.Context, products []*domain.Product) error {
	for _, p := range products {
		res := t.db.WithContext(ctx).Model(&ProductModel{}).
			Where("code = ? AND version = ?", p.Code, p.Version).
			Updates(map[string]interface{}{
				"available_quantity": p.AvailableQuantity,
				"reserved_items":     p.ReservedItems,
				"version":            p.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(domain.ErrOptimisticLock, "product %s version %d", p.Code, p.Version)
		}
		p.Version++
	}
	return nil
}

func (t *gormTx) Processed(ctx context.Context, orderID int64, phase sagaevent.Phase) (sagaevent.Status, bool, error) {
	var m ProcessedOrderModel
	err := t.db.WithContext(ctx).Where("order_id = ? AND phase = ?", orderID, string(phase)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sagaevent.Status(m.Status), true, nil
}

func (t *gormTx) MarkProcessed(ctx context.Context, orderID int64, phase sagaevent.Phase, status sagaevent.Status) error {
	err := t.db.WithContext(ctx).Create(&ProcessedOrderModel{
		OrderID: orderID,
		Phase:   string(phase),
		Status:  string(status),
	}).Error
	if database.IsDuplicateKey(err) {
		return errors.Wrapf(domain.ErrOptimisticLock, "order %d already processed for %s", orderID, phase)
	}
	return err
}
