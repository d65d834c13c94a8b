// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/domain"
)

const insertBatchSize = 100

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := ToOrderModel(order)
	// 订单与订单行由 GORM 的关联写入一起创建
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	order.ID = model.ID
	return nil
}

func (r *GormOrderRepository) SaveAll(ctx context.Context, orders []*domain.Order) error {
	models := make([]*OrderModel, 0, len(orders))
	for _, o := range orders {
		models = append(models, ToOrderModel(o))
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(models, insertBatchSize).Error
	})
	if err != nil {
		return err
	}
	for i, m := range models {
		orders[i].ID = m.ID
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items", orderedItems).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrOrderNotFound, "order %d", id)
		}
		return nil, err
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindNewCreatedBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("status = ? AND created_at < ? AND id > ?", sagaevent.StatusNew, cutoff, afterID).
		Order("id").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders, nil
}

func (r *GormOrderRepository) UpdateStatusIfNew(ctx context.Context, id int64, status sagaevent.Status, source sagaevent.Source) (bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, sagaevent.StatusNew).
		Updates(map[string]interface{}{
			"status":     string(status),
			"source":     string(source),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}
