// Package promotion defines discount rules and the pure scope/savings
// calculations applied to a cart.
package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promotion discount strategies.
type DiscountType string

const (
	// DiscountPercent applies a percentage-based discount to the eligible subtotal.
	DiscountPercent DiscountType = "percent"
	// DiscountAmount applies a fixed monetary discount capped at the eligible subtotal.
	DiscountAmount DiscountType = "amount"
	// DiscountFreeShipping waives the shipping fee the order would otherwise pay.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// ScopeEntity identifies what a scope rule targets.
type ScopeEntity string

const (
	ScopeProduct  ScopeEntity = "product"
	ScopeCategory ScopeEntity = "category"
)

// ScopeMode tells whether a scope rule includes or excludes its target.
type ScopeMode string

const (
	ScopeInclude ScopeMode = "include"
	ScopeExclude ScopeMode = "exclude"
)

// ErrNotFound is returned when a requested promotion does not exist.
var ErrNotFound = errors.New("promotion not found")

// Scope is a single product/category include or exclude rule.
type Scope struct {
	EntityType ScopeEntity
	Mode       ScopeMode
	EntityID   string
}

// Promotion defines a discount rule with a temporal window and optional
// product/category scope. One promotion may back many coupons.
type Promotion struct {
	ID           string
	Key          string
	DiscountType DiscountType
	PercentOff   decimal.Decimal
	AmountOff    decimal.Decimal
	// MaxDiscount caps percent discounts; zero means uncapped.
	MaxDiscount decimal.Decimal
	// MinSubtotal is the minimum scoped subtotal required; zero disables the check.
	MinSubtotal      decimal.Decimal
	AllowOnSaleItems bool
	FirstOrderOnly   bool
	Active           bool
	StartsAt         *time.Time
	EndsAt           *time.Time
	Scopes           []Scope
}

// Repository provides read access to promotion rules.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Promotion, error)
}
