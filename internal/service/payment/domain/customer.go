// internal/service/payment/domain/customer.go
package domain

import "github.com/shopspring/decimal"

// Customer 是客户余额记录，Version 用于乐观锁
type Customer struct {
	ID              int64
	Name            string
	AmountAvailable decimal.Decimal
	AmountReserved  decimal.Decimal
	Version         int64
}

// AmountScale 与余额列 decimal(19,2) 一致
const AmountScale = 2

// RoundAmount 把金额舍入到分，内存中的余额与落库后的值保持一致
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountScale)
}

func (c *Customer) CanReserve(amount decimal.Decimal) bool {
	return RoundAmount(amount).LessThanOrEqual(c.AmountAvailable)
}

// Reserve 把金额从可用移到预占
func (c *Customer) Reserve(amount decimal.Decimal) error {
	if !c.CanReserve(amount) {
		return ErrInsufficientFunds
	}
	amount = RoundAmount(amount)
	c.AmountAvailable = c.AmountAvailable.Sub(amount)
	c.AmountReserved = c.AmountReserved.Add(amount)
	return nil
}

// Confirm 扣除预占金额，返回实际扣除的部分
func (c *Customer) Confirm(amount decimal.Decimal) decimal.Decimal {
	released := decimal.Min(RoundAmount(amount), c.AmountReserved)
	c.AmountReserved = c.AmountReserved.Sub(released)
	return released
}

// Rollback 把预占金额退回可用余额
func (c *Customer) Rollback(amount decimal.Decimal) decimal.Decimal {
	released := decimal.Min(RoundAmount(amount), c.AmountReserved)
	c.AmountReserved = c.AmountReserved.Sub(released)
	c.AmountAvailable = c.AmountAvailable.Add(released)
	return released
}
