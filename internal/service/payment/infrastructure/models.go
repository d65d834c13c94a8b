// internal/service/payment/infrastructure/models.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CustomerModel 对应 customers 表
type CustomerModel struct {
	ID              int64           `gorm:"primaryKey;autoIncrement:false"`
	Name            string          `gorm:"type:varchar(128)"`
	AmountAvailable decimal.Decimal `gorm:"type:decimal(19,2)"`
	AmountReserved  decimal.Decimal `gorm:"type:decimal(19,2)"`
	Version         int64
}

func (CustomerModel) TableName() string {
	return "customers"
}

// ProcessedOrderModel 是支付腿的去重表
type ProcessedOrderModel struct {
	OrderID   int64  `gorm:"primaryKey;autoIncrement:false"`
	Phase     string `gorm:"primaryKey;type:varchar(16)"`
	Status    string `gorm:"type:varchar(16)"`
	CreatedAt time.Time
}

func (ProcessedOrderModel) TableName() string {
	return "payment_processed_orders"
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CustomerModel{}, &ProcessedOrderModel{})
}
