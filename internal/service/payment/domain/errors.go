package domain

import "github.com/pkg/errors"

var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrOptimisticLock    = errors.New("customer row modified concurrently")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
