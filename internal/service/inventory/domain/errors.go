package domain

import "github.com/pkg/errors"

var (
	ErrOptimisticLock    = errors.New("inventory row modified concurrently")
	ErrInsufficientStock = errors.New("insufficient stock")
)
