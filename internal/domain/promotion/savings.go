package promotion

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Savings holds the computed monetary and shipping discounts.
type Savings struct {
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
}

// ComputeSavings calculates the savings for the promotion against an already
// resolved scope. cartSubtotal is the full order subtotal, used only for the
// free-shipping threshold check.
func ComputeSavings(
	p *Promotion,
	scope ScopeResult,
	cartSubtotal decimal.Decimal,
	checkout cart.CheckoutConfig,
) (Savings, error) {
	switch p.DiscountType {
	case DiscountPercent:
		return Savings{Discount: percentDiscount(p, scope.EligibleSubtotal, checkout.Rounding)}, nil
	case DiscountAmount:
		return Savings{Discount: amountDiscount(p, scope.EligibleSubtotal, checkout.Rounding)}, nil
	case DiscountFreeShipping:
		return Savings{ShippingDiscount: shippingDiscount(cartSubtotal, checkout)}, nil
	default:
		return Savings{}, errors.Errorf("unsupported discount type: %q", p.DiscountType)
	}
}

// percentDiscount applies percentage_off to the eligible subtotal, capped by
// MaxDiscount when set and never exceeding the eligible base.
func percentDiscount(p *Promotion, eligible decimal.Decimal, rounding money.Rounding) decimal.Decimal {
	amount := eligible.Mul(p.PercentOff).Div(hundred)
	if p.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, p.MaxDiscount)
	}
	amount = decimal.Min(amount, eligible)
	return rounding.Quantize(money.FloorAtZero(amount))
}

// amountDiscount never discounts more than the eligible base.
func amountDiscount(p *Promotion, eligible decimal.Decimal, rounding money.Rounding) decimal.Decimal {
	amount := decimal.Min(p.AmountOff, eligible)
	return rounding.Quantize(money.FloorAtZero(amount))
}

// shippingDiscount waives the fee the order would pay without the coupon.
// When the order already ships free (threshold reached), there is nothing to
// discount.
func shippingDiscount(cartSubtotal decimal.Decimal, checkout cart.CheckoutConfig) decimal.Decimal {
	fee := checkout.ShippingFeeFor(cartSubtotal)
	if !fee.IsPositive() {
		return decimal.Zero
	}
	return checkout.Rounding.Quantize(fee)
}
