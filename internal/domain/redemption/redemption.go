// Package redemption implements the reserve -> redeem -> void lifecycle that
// turns a soft hold on coupon capacity at order placement into a permanent
// ledger entry at payment capture.
//
// All coordination is delegated to the backing store: an exclusive lock on
// the coupon row serializes concurrent capacity checks, and unique
// constraints on order_id act as a backstop for races the lock cannot see.
// There are no in-process locks or caches.
package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// Sentinel errors for lifecycle validation and conflicts.
var (
	ErrUserRequired   = errors.New("order has no user")
	ErrOrderRequired  = errors.New("order id required")
	ErrCouponRequired = errors.New("coupon required")
	// ErrCouponMismatch is returned when the order already holds a
	// reservation for a different coupon.
	ErrCouponMismatch       = errors.New("order already holds a different coupon")
	ErrCouponInactive       = errors.New("coupon inactive")
	ErrNotAssigned          = errors.New("coupon not assigned to user")
	ErrUsageLimitReached    = errors.New("coupon usage limit reached")
	ErrCustomerLimitReached = errors.New("per-customer usage limit reached")
	// ErrDuplicateOrder is reported by storage when an insert hits the
	// unique order_id constraint.
	ErrDuplicateOrder = errors.New("order already has an entry")
	// ErrOrderNotFound is returned when the order read model has no such order.
	ErrOrderNotFound = errors.New("order not found")
)

// Reservation is a time-boxed hold on one unit of a coupon's capacity.
// Exactly one reservation may exist per order.
type Reservation struct {
	ID               string
	CouponID         string
	UserID           string
	OrderID          string
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// Expired reports whether the reservation no longer counts toward capacity.
func (r Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Redemption is the permanent ledger record of a coupon being used by a
// completed order. It is never hard-deleted; refunds void it in place.
type Redemption struct {
	ID               string
	CouponID         string
	UserID           string
	OrderID          string
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
	RedeemedAt       time.Time
	VoidedAt         *time.Time
	VoidReason       string
}

// Voided reports whether the redemption has been reversed.
func (r Redemption) Voided() bool {
	return r.VoidedAt != nil
}

// Order is the slice of the external order aggregate the ledger reads.
type Order struct {
	ID         string
	UserID     string
	CouponCode string
}

// Repository is the transactional storage contract for the lifecycle.
// Implementations must scope every call between WithTx begin and end to the
// same database transaction, and GetCouponForUpdate must take an exclusive
// row lock held until the transaction ends.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCouponForUpdate(ctx context.Context, couponID string) (*coupon.Coupon, error)
	FindCouponByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	HasActiveAssignment(ctx context.Context, couponID, userID string) (bool, error)

	FindReservationByOrder(ctx context.Context, orderID string) (*Reservation, error)
	CreateReservation(ctx context.Context, res Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	PurgeExpiredReservations(ctx context.Context, couponID string, now time.Time) (int64, error)
	CountUsage(ctx context.Context, couponID, userID string, now time.Time) (coupon.Usage, error)

	FindRedemptionByOrder(ctx context.Context, orderID string) (*Redemption, error)
	CreateRedemption(ctx context.Context, red Redemption) error
	VoidRedemption(ctx context.Context, orderID, reason string, now time.Time) (bool, error)
}

// EventRecorder appends an order-event log entry. Recording is
// fire-and-forget; failures must not abort the surrounding operation.
type EventRecorder interface {
	Record(ctx context.Context, orderID, action, note string)
}

// Event actions written to the order event log.
const (
	ActionReserved = "coupon_reserved"
	ActionRedeemed = "coupon_redeemed"
	ActionReleased = "coupon_released"
	ActionVoided   = "coupon_voided"
)
