package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/promo-engine/internal/money"
)

func TestCartSubtotal(t *testing.T) {
	c := Cart{Lines: []Line{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("25.00")},
		{ProductID: "p2", Quantity: 3, UnitPrice: decimal.RequireFromString("9.99")},
	}}

	assert.True(t, decimal.RequireFromString("79.97").Equal(c.Subtotal()))
	assert.True(t, Cart{}.Subtotal().IsZero())
}

func TestShippingFeeFor(t *testing.T) {
	cfg := CheckoutConfig{
		ShippingFee:           decimal.RequireFromString("12.00"),
		FreeShippingThreshold: decimal.RequireFromString("150.00"),
		Rounding:              money.HalfUp,
	}

	tests := []struct {
		name     string
		subtotal string
		want     string
	}{
		{"below threshold pays fee", "149.99", "12.00"},
		{"at threshold ships free", "150.00", "0"},
		{"above threshold ships free", "500.00", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.ShippingFeeFor(decimal.RequireFromString(tt.subtotal))
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got))
		})
	}

	t.Run("zero threshold never free", func(t *testing.T) {
		cfg := CheckoutConfig{ShippingFee: decimal.RequireFromString("12.00")}
		got := cfg.ShippingFeeFor(decimal.RequireFromString("1000.00"))
		assert.True(t, decimal.RequireFromString("12.00").Equal(got))
	})
}
