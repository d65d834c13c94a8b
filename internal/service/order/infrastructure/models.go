// internal/service/order/infrastructure/models.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	CustomerID int64     `gorm:"index"`
	Status     string    `gorm:"type:varchar(16);index:idx_status_created,priority:1"`
	Source     string    `gorm:"type:varchar(16)"`
	CreatedAt  time.Time `gorm:"index:idx_status_created,priority:2"`
	UpdatedAt  time.Time
	Items      []OrderItemModel `gorm:"foreignKey:OrderID"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应 order_items 表，Position 保留请求中的行顺序
type OrderItemModel struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	OrderID     int64 `gorm:"index"`
	Position    int
	ProductCode string `gorm:"type:varchar(64)"`
	Quantity    int32
	UnitPrice   decimal.Decimal `gorm:"type:decimal(19,2)"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}

// AutoMigrate 创建或更新订单相关的表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &OrderItemModel{})
}
