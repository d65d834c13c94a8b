// internal/service/payment/infrastructure/gorm_store.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ordersaga/internal/pkg/database"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/payment/domain"
)

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

func (t *gormTx) FindCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var m CustomerModel
	err := t.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(domain.ErrCustomerNotFound, "customer %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Customer{
		ID:              m.ID,
		Name:            m.Name,
		AmountAvailable: m.AmountAvailable,
		AmountReserved:  m.AmountReserved,
		Version:         m.Version,
	}, nil
}

func (t *gormTx) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	res := t.db.WithContext(ctx).Model(&CustomerModel{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]interface{}{
			"amount_available": c.AmountAvailable,
			"amount_reserved":  c.AmountReserved,
			"version":          c.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(domain.ErrOptimisticLock, "customer %d version %d", c.ID, c.Version)
	}
	c.Version++
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
