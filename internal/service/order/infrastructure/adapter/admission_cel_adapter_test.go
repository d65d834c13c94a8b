package adapter

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/domain"
)

func testOrder(customerID int64, qty int32, price string) *domain.Order {
	return &domain.Order{
		CustomerID: customerID,
		Status:     sagaevent.StatusNew,
		Items: []domain.OrderItem{
			{ProductCode: "a", Quantity: qty, UnitPrice: decimal.RequireFromString(price)},
			{ProductCode: "b", Quantity: 1, UnitPrice: decimal.RequireFromString(price)},
		},
	}
}

func TestCELAdmission(t *testing.T) {
	policy, err := NewCELAdmissionPolicy("totalPrice <= 100.0 && itemCount <= 5 && totalQuantity < 10 && customerId != 13")
	require.NoError(t, err)

	cases := []struct {
		name  string
		order *domain.Order
		want  bool
	}{
		{"within limits", testOrder(1, 3, "10"), true},
		{"too expensive", testOrder(1, 3, "40"), false},
		{"too many units", testOrder(1, 9, "1"), false},
		{"blocked customer", testOrder(13, 1, "1"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := policy.Admit(context.Background(), tc.order)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestCELAdmission_InvalidRules(t *testing.T) {
	_, err := NewCELAdmissionPolicy("totalPrice +")
	assert.Error(t, err)

	_, err = NewCELAdmissionPolicy("unknownVar > 1")
	assert.Error(t, err)

	_, err = NewCELAdmissionPolicy("totalPrice * 2.0")
	assert.Error(t, err, "non-bool rule")
}
