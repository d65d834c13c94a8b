// internal/service/inventory/domain/product.go
package domain

// Product 是库存记录，Version 用于乐观锁
type Product struct {
	Code              string
	AvailableQuantity int32
	ReservedItems     int32
	Version           int64
}

// CanReserve 只读校验，不修改库存
func (p *Product) CanReserve(qty int32) bool {
	return qty > 0 && qty <= p.AvailableQuantity
}

// Reserve 把 qty 从可用移到预占
func (p *Product) Reserve(qty int32) error {
	if !p.CanReserve(qty) {
		return ErrInsufficientStock
	}
	p.AvailableQuantity -= qty
	p.ReservedItems += qty
	return nil
}

// Confirm 释放预占（库存已真正扣减），返回实际释放的数量。预占不足时只释放现有的部分。
func (p *Product) Confirm(qty int32) int32 {
	released := min(qty, p.ReservedItems)
	p.ReservedItems -= released
	return released
}

// Rollback 撤销预占，把数量还回可用库存，返回实际撤销的数量。
func (p *Product) Rollback(qty int32) int32 {
	released := min(qty, p.ReservedItems)
	p.ReservedItems -= released
	p.AvailableQuantity += released
	return released
}
