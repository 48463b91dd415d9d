package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/clock"
	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// Manager turns an eligible coupon into a capacity-locked hold tied to one
// order.
type Manager struct {
	repo   Repository
	events EventRecorder
	clock  clock.Clock
	ttl    time.Duration
}

// NewManager creates a Manager. ttl is the reservation lifetime and must be
// positive; it comes from configuration, not a built-in default.
func NewManager(repo Repository, events EventRecorder, clk clock.Clock, ttl time.Duration) *Manager {
	return &Manager{
		repo:   repo,
		events: events,
		clock:  clk,
		ttl:    ttl,
	}
}

// ReserveInput holds the input for reserving one unit of coupon capacity.
// Discount amounts are carried from the eligibility estimate so redemption
// can record exactly what the customer was promised.
type ReserveInput struct {
	CouponID         string
	UserID           string
	OrderID          string
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
}

// Reserve creates a reservation for the order, enforcing global and
// per-customer caps under an exclusive lock on the coupon row. Calling it
// again for the same (order, coupon) returns the existing reservation.
//
// The lock spans the capacity re-count and the insert, so two concurrent
// calls cannot both pass a check that only one of them can satisfy: the
// second blocks until the first commits, then re-counts.
func (m *Manager) Reserve(ctx context.Context, in ReserveInput) (Reservation, error) {
	if in.UserID == "" {
		return Reservation{}, ErrUserRequired
	}
	if in.OrderID == "" {
		return Reservation{}, ErrOrderRequired
	}
	if in.CouponID == "" {
		return Reservation{}, ErrCouponRequired
	}

	now := m.clock.Now()
	var (
		result  Reservation
		created bool
	)

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		if existing, err := m.repo.FindReservationByOrder(txCtx, in.OrderID); err != nil {
			return err
		} else if existing != nil {
			if existing.CouponID != in.CouponID {
				return ErrCouponMismatch
			}
			result = *existing
			return nil
		}

		cpn, err := m.repo.GetCouponForUpdate(txCtx, in.CouponID)
		if err != nil {
			return err
		}
		if !cpn.Active {
			return ErrCouponInactive
		}

		if cpn.Visibility == coupon.VisibilityAssigned {
			assigned, err := m.repo.HasActiveAssignment(txCtx, cpn.ID, in.UserID)
			if err != nil {
				return err
			}
			if !assigned {
				return ErrNotAssigned
			}
		}

		if _, err := m.repo.PurgeExpiredReservations(txCtx, cpn.ID, now); err != nil {
			return err
		}

		usage, err := m.repo.CountUsage(txCtx, cpn.ID, in.UserID, now)
		if err != nil {
			return err
		}
		if cpn.MaxRedemptions > 0 && usage.GlobalUsed() >= cpn.MaxRedemptions {
			return ErrUsageLimitReached
		}
		if cpn.PerCustomerMax > 0 && usage.CustomerUsed() >= cpn.PerCustomerMax {
			return ErrCustomerLimitReached
		}

		res := Reservation{
			ID:               uuid.New().String(),
			CouponID:         cpn.ID,
			UserID:           in.UserID,
			OrderID:          in.OrderID,
			Discount:         in.Discount,
			ShippingDiscount: in.ShippingDiscount,
			ExpiresAt:        now.Add(m.ttl),
			CreatedAt:        now,
		}

		if err := m.repo.CreateReservation(txCtx, res); err != nil {
			// A concurrent insert for the same order won the unique-constraint
			// race. Re-read and resolve instead of failing the request.
			if errors.Is(err, ErrDuplicateOrder) {
				existing, rerr := m.repo.FindReservationByOrder(txCtx, in.OrderID)
				if rerr != nil {
					return rerr
				}
				if existing != nil {
					if existing.CouponID != in.CouponID {
						return ErrCouponMismatch
					}
					result = *existing
					return nil
				}
			}
			return err
		}

		result = res
		created = true
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}

	if created {
		m.events.Record(ctx, in.OrderID, ActionReserved, "coupon "+in.CouponID+" reserved until "+result.ExpiresAt.Format(time.RFC3339))
	}
	return result, nil
}
