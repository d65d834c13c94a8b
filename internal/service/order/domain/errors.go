package domain

import "github.com/pkg/errors"

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrRejectedByPolicy = errors.New("order rejected by admission policy")
)
