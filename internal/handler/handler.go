// Package handler exposes the promo engine over a JSON HTTP API. Requests
// and responses are encoded with go-faster/jx; money values travel as
// strings with two decimal places.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

// Evaluator checks coupon eligibility against a cart.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, c cart.Cart, userID string) (*coupon.Eligibility, error)
}

// Reserver places capacity holds for orders.
type Reserver interface {
	Reserve(ctx context.Context, in redemption.ReserveInput) (redemption.Reservation, error)
}

// Ledger finalizes and reverses coupon usage.
type Ledger interface {
	Redeem(ctx context.Context, ord redemption.Order) error
	Release(ctx context.Context, orderID, reason string) error
}

// CodeGenerator produces unique coupon codes.
type CodeGenerator interface {
	GenerateUnique(ctx context.Context, prefix, pattern string) (string, error)
}

// CouponStore provides coupon lookup and creation for the codes endpoint.
type CouponStore interface {
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	Create(ctx context.Context, cpn coupon.Coupon) error
}

// OrderReader loads the order slice the lifecycle endpoints act on.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (redemption.Order, error)
}

// Handler wires the domain services to HTTP routes.
type Handler struct {
	evaluator Evaluator
	reserver  Reserver
	ledger    Ledger
	codes     CodeGenerator
	coupons   CouponStore
	orders    OrderReader
	verifier  *auth.Verifier
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	evaluator Evaluator,
	reserver Reserver,
	ledger Ledger,
	codes CodeGenerator,
	coupons CouponStore,
	orders OrderReader,
	verifier *auth.Verifier,
) *Handler {
	return &Handler{
		evaluator: evaluator,
		reserver:  reserver,
		ledger:    ledger,
		codes:     codes,
		coupons:   coupons,
		orders:    orders,
		verifier:  verifier,
	}
}

// Routes returns the API route table. Evaluation and coupon lookup are open;
// everything that mutates state requires an API key.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/promo/evaluate", h.evaluate)
	mux.HandleFunc("GET /api/promo/coupons/{code}", h.getCoupon)
	mux.HandleFunc("POST /api/promo/reserve", h.requireAPIKey(h.reserve))
	mux.HandleFunc("POST /api/promo/redeem", h.requireAPIKey(h.redeem))
	mux.HandleFunc("POST /api/promo/release", h.requireAPIKey(h.release))
	mux.HandleFunc("POST /api/promo/codes", h.requireAPIKey(h.issueCodes))
	return mux
}
