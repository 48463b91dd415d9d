package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/clock"
	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// Machine-readable ineligibility reasons, in evaluation order. UIs surface
// every blocking condition at once, so all applicable reasons are collected
// rather than failing on the first.
const (
	ReasonPromotionInactive   = "promotion_inactive"
	ReasonPromotionNotStarted = "promotion_not_started"
	ReasonPromotionExpired    = "promotion_expired"
	ReasonCouponInactive      = "coupon_inactive"
	ReasonCouponNotStarted    = "coupon_not_started"
	ReasonCouponExpired       = "coupon_expired"
	ReasonNoEligibleItems     = "no_eligible_items"
	ReasonScopeNoMatch        = "scope_no_match"
	ReasonScopeExcluded       = "scope_excluded"
	ReasonMinSubtotalNotMet   = "min_subtotal_not_met"
	ReasonFirstOrderOnly      = "first_order_only"
	ReasonShippingAlreadyFree = "shipping_already_free"
	ReasonNotAssigned         = "not_assigned"
	ReasonSoldOut             = "sold_out"
	ReasonPerCustomerLimit    = "per_customer_limit_reached"
)

// Eligibility is the evaluator's verdict for one (code, cart, user) triple.
type Eligibility struct {
	Eligible bool
	// Reasons lists every blocking condition, deduplicated, first
	// occurrence order preserved. Empty when Eligible.
	Reasons                   []string
	EstimatedDiscount         decimal.Decimal
	EstimatedShippingDiscount decimal.Decimal
	// GlobalRemaining is the remaining global capacity, nil when uncapped.
	GlobalRemaining *int
	// CustomerRemaining is the remaining per-customer capacity, nil when uncapped.
	CustomerRemaining *int
}

// reasonList collects reasons preserving first-occurrence order.
type reasonList struct {
	seen map[string]struct{}
	out  []string
}

func (r *reasonList) add(reason string) {
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	if _, ok := r.seen[reason]; ok {
		return
	}
	r.seen[reason] = struct{}{}
	r.out = append(r.out, reason)
}

// Evaluator decides whether a coupon applies to a cart. It is entirely
// read-only: callers may invoke it concurrently and repeatedly while the
// customer edits the cart.
type Evaluator struct {
	catalog    Catalog
	promotions promotion.Repository
	products   product.Repository
	orders     OrderHistory
	checkout   cart.CheckoutConfig
	clock      clock.Clock
}

// NewEvaluator creates an Evaluator with the required collaborators.
func NewEvaluator(
	catalog Catalog,
	promotions promotion.Repository,
	products product.Repository,
	orders OrderHistory,
	checkout cart.CheckoutConfig,
	clk clock.Clock,
) *Evaluator {
	return &Evaluator{
		catalog:    catalog,
		promotions: promotions,
		products:   products,
		orders:     orders,
		checkout:   checkout,
		clock:      clk,
	}
}

// Evaluate checks the coupon code against the cart for the given user.
// An unknown code returns ErrNotFound; every other blocking condition is
// reported through Eligibility.Reasons.
func (e *Evaluator) Evaluate(ctx context.Context, code string, c cart.Cart, userID string) (*Eligibility, error) {
	cpn, err := e.catalog.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	promo, err := e.promotions.GetByID(ctx, cpn.PromotionID)
	if err != nil {
		return nil, errors.Wrap(err, "load promotion")
	}

	now := e.clock.Now()
	var reasons reasonList

	if !promo.Active {
		reasons.add(ReasonPromotionInactive)
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		reasons.add(ReasonPromotionNotStarted)
	}
	if promo.EndsAt != nil && now.After(*promo.EndsAt) {
		reasons.add(ReasonPromotionExpired)
	}

	if !cpn.Active {
		reasons.add(ReasonCouponInactive)
	}
	if cpn.StartsAt != nil && now.Before(*cpn.StartsAt) {
		reasons.add(ReasonCouponNotStarted)
	}
	if cpn.EndsAt != nil && now.After(*cpn.EndsAt) {
		reasons.add(ReasonCouponExpired)
	}

	catalog, err := e.loadProducts(ctx, c)
	if err != nil {
		return nil, err
	}

	scope := promotion.ResolveScope(promo, c.Lines, catalog, e.checkout.Rounding)
	cartSubtotal := c.Subtotal()

	savings, err := promotion.ComputeSavings(promo, scope, cartSubtotal, e.checkout)
	if err != nil {
		return nil, err
	}

	monetary := promo.DiscountType == promotion.DiscountPercent || promo.DiscountType == promotion.DiscountAmount
	if monetary && !scope.EligibleSubtotal.IsPositive() {
		reasons.add(ReasonNoEligibleItems)
	}

	if !scope.ScopeSubtotal.IsPositive() {
		if scope.HasIncludes {
			reasons.add(ReasonScopeNoMatch)
		} else if scope.HasExcludes {
			reasons.add(ReasonScopeExcluded)
		}
	}

	if promo.MinSubtotal.IsPositive() && scope.ScopeSubtotal.LessThan(promo.MinSubtotal) {
		reasons.add(ReasonMinSubtotalNotMet)
	}

	if promo.FirstOrderOnly && userID != "" {
		delivered, err := e.orders.HasDeliveredOrder(ctx, userID)
		if err != nil {
			return nil, errors.Wrap(err, "check order history")
		}
		if delivered {
			reasons.add(ReasonFirstOrderOnly)
		}
	}

	if promo.DiscountType == promotion.DiscountFreeShipping && !savings.ShippingDiscount.IsPositive() {
		reasons.add(ReasonShippingAlreadyFree)
	}

	if cpn.Visibility == VisibilityAssigned {
		assigned := false
		if userID != "" {
			assigned, err = e.catalog.HasActiveAssignment(ctx, cpn.ID, userID)
			if err != nil {
				return nil, errors.Wrap(err, "check assignment")
			}
		}
		if !assigned {
			reasons.add(ReasonNotAssigned)
		}
	}

	usage, err := e.catalog.CountUsage(ctx, cpn.ID, userID, now)
	if err != nil {
		return nil, errors.Wrap(err, "count usage")
	}

	result := &Eligibility{
		EstimatedDiscount:         savings.Discount,
		EstimatedShippingDiscount: savings.ShippingDiscount,
	}

	if cpn.MaxRedemptions > 0 {
		remaining := max(cpn.MaxRedemptions-usage.GlobalUsed(), 0)
		result.GlobalRemaining = &remaining
		if remaining == 0 {
			reasons.add(ReasonSoldOut)
		}
	}
	if cpn.PerCustomerMax > 0 && userID != "" {
		remaining := max(cpn.PerCustomerMax-usage.CustomerUsed(), 0)
		result.CustomerRemaining = &remaining
		if remaining == 0 {
			reasons.add(ReasonPerCustomerLimit)
		}
	}

	result.Reasons = reasons.out
	result.Eligible = len(reasons.out) == 0
	return result, nil
}

// loadProducts batch-fetches every distinct product referenced by the cart.
// Unknown products are simply absent from the returned map; the scope
// resolver skips their lines.
func (e *Evaluator) loadProducts(ctx context.Context, c cart.Cart) (map[string]product.Product, error) {
	ids := make([]string, 0, len(c.Lines))
	seen := make(map[string]struct{}, len(c.Lines))
	for _, line := range c.Lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	if len(ids) == 0 {
		return map[string]product.Product{}, nil
	}

	fetched, err := e.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	catalog := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		catalog[p.ID] = p
	}
	return catalog, nil
}
