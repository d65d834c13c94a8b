// internal/service/inventory/infrastructure/models.go
package infrastructure

import (
	"time"

	"gorm.io/gorm"
)

// ProductModel 对应 products 表
type ProductModel struct {
	Code              string `gorm:"primaryKey;type:varchar(64)"`
	AvailableQuantity int32
	ReservedItems     int32
	Version           int64
}

func (ProductModel) TableName() string {
	return "products"
}

// ProcessedOrderModel 是库存腿的去重表，(order_id, phase) 为主键
type ProcessedOrderModel struct {
	OrderID   int64  `gorm:"primaryKey;autoIncrement:false"`
	Phase     string `gorm:"primaryKey;type:varchar(16)"`
	Status    string `gorm:"type:varchar(16)"`
	CreatedAt time.Time
}

func (ProcessedOrderModel) TableName() string {
	return "inventory_processed_orders"
}

// AutoMigrate 创建或更新库存相关的表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProductModel{}, &ProcessedOrderModel{})
}
