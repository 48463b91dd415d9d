// Package coupon defines redeemable codes bound to promotions, the
// eligibility evaluation that decides whether a code applies to a cart, and
// the coupon code generator.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Visibility controls who may use a coupon.
type Visibility string

const (
	// VisibilityPublic coupons are usable by anyone.
	VisibilityPublic Visibility = "public"
	// VisibilityAssigned coupons require an active assignment for the user.
	VisibilityAssigned Visibility = "assigned"
)

// ErrNotFound is returned when a coupon code does not exist.
var ErrNotFound = errors.New("coupon not found")

// ErrCodeTaken is returned when creating a coupon whose code collides with an
// existing one, case-insensitively.
var ErrCodeTaken = errors.New("coupon code already taken")

// Coupon is a redeemable code bound to one promotion, with its own
// visibility, temporal window, and usage caps.
type Coupon struct {
	ID          string
	PromotionID string
	Code        string
	Visibility  Visibility
	Active      bool
	StartsAt    *time.Time
	EndsAt      *time.Time
	// MaxRedemptions caps total usage across all customers; zero means unlimited.
	MaxRedemptions int
	// PerCustomerMax caps usage per customer; zero means unlimited.
	PerCustomerMax int
}

// Usage is a snapshot of a coupon's capacity consumption. Voided redemptions
// and expired reservations are excluded.
type Usage struct {
	Redeemed         int
	Reserved         int
	CustomerRedeemed int
	CustomerReserved int
}

// GlobalUsed returns total consumed capacity across all customers.
func (u Usage) GlobalUsed() int {
	return u.Redeemed + u.Reserved
}

// CustomerUsed returns consumed capacity for the queried customer.
func (u Usage) CustomerUsed() int {
	return u.CustomerRedeemed + u.CustomerReserved
}

// NormalizeCode canonicalizes a user-supplied coupon code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Catalog provides the read access the evaluator needs: coupon lookup,
// assignment checks, and capacity counts.
type Catalog interface {
	// FindByCode returns the coupon for a normalized code, or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// HasActiveAssignment reports whether the user holds a non-revoked
	// assignment for the coupon.
	HasActiveAssignment(ctx context.Context, couponID, userID string) (bool, error)
	// CountUsage returns capacity consumption as of now. userID may be empty,
	// in which case the customer counters are zero.
	CountUsage(ctx context.Context, couponID, userID string, now time.Time) (Usage, error)
}

// OrderHistory answers the single question the first-order-only rule needs.
type OrderHistory interface {
	HasDeliveredOrder(ctx context.Context, userID string) (bool, error)
}
