// Package cart models the order-in-progress the promo engine evaluates
// against: line items with unit prices, and the checkout parameters that
// decide shipping fees and money rounding.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/money"
)

// Line is one cart line item. UnitPrice is the current price per unit, sale
// price included when the product is on sale.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total returns the line total, quantity times unit price.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the set of lines being checked out.
type Cart struct {
	Lines []Line
}

// Subtotal returns the sum of all line totals, before any discount.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// CheckoutConfig holds the store-wide checkout parameters the engine needs:
// the flat shipping fee, the free-shipping threshold, and the rounding mode
// applied to every computed money value.
type CheckoutConfig struct {
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	Rounding              money.Rounding
}

// ShippingFeeFor returns the fee an order with the given subtotal pays
// without any coupon. Zero once the free-shipping threshold is reached; a
// non-positive threshold disables threshold-based free shipping.
func (c CheckoutConfig) ShippingFeeFor(subtotal decimal.Decimal) decimal.Decimal {
	if c.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(c.FreeShippingThreshold) {
		return decimal.Zero
	}
	return c.ShippingFee
}
