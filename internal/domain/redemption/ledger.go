package redemption

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/clock"
	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// Ledger promotes reservations into permanent redemption records and
// reverses them on cancellation or refund. Both operations are idempotent:
// they are driven by payment webhooks delivered at least once.
type Ledger struct {
	repo   Repository
	events EventRecorder
	clock  clock.Clock
}

// NewLedger creates a Ledger with the required collaborators.
func NewLedger(repo Repository, events EventRecorder, clk clock.Clock) *Ledger {
	return &Ledger{
		repo:   repo,
		events: events,
		clock:  clk,
	}
}

// Redeem records the coupon usage for a paid order. It is a no-op when the
// order carries no coupon code, has no user, or already has a redemption.
// Amounts are carried forward from the order's reservation; orders without
// one (legacy flows) redeem with zero amounts.
func (l *Ledger) Redeem(ctx context.Context, ord Order) error {
	if ord.CouponCode == "" || ord.UserID == "" {
		return nil
	}

	now := l.clock.Now()
	redeemed := false

	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		if existing, err := l.repo.FindRedemptionByOrder(txCtx, ord.ID); err != nil {
			return err
		} else if existing != nil {
			return nil
		}

		cpn, err := l.repo.FindCouponByCode(txCtx, coupon.NormalizeCode(ord.CouponCode))
		if err != nil {
			// A code that no longer resolves cannot be redeemed; the payment
			// itself must still succeed.
			if errors.Is(err, coupon.ErrNotFound) {
				return nil
			}
			return err
		}

		// Serialize against concurrent reserves on the same coupon.
		if _, err := l.repo.GetCouponForUpdate(txCtx, cpn.ID); err != nil {
			return err
		}

		discount := decimal.Zero
		shippingDiscount := decimal.Zero

		res, err := l.repo.FindReservationByOrder(txCtx, ord.ID)
		if err != nil {
			return err
		}
		if res != nil && res.CouponID == cpn.ID {
			discount = res.Discount
			shippingDiscount = res.ShippingDiscount
			if err := l.repo.DeleteReservation(txCtx, res.ID); err != nil {
				return err
			}
		}

		red := Redemption{
			ID:               uuid.New().String(),
			CouponID:         cpn.ID,
			UserID:           ord.UserID,
			OrderID:          ord.ID,
			Discount:         discount,
			ShippingDiscount: shippingDiscount,
			RedeemedAt:       now,
		}
		if err := l.repo.CreateRedemption(txCtx, red); err != nil {
			// Lost the race against a concurrent redeem for the same order;
			// the ledger row exists, so the outcome is the same.
			if errors.Is(err, ErrDuplicateOrder) {
				return nil
			}
			return err
		}

		redeemed = true
		return nil
	})
	if err != nil {
		return err
	}

	if redeemed {
		l.events.Record(ctx, ord.ID, ActionRedeemed, "coupon "+ord.CouponCode+" redeemed")
	}
	return nil
}

// Release frees the order's coupon capacity. It deletes any open reservation
// and soft-voids an existing redemption, recording the reason. Safe to call
// any number of times, in any state.
func (l *Ledger) Release(ctx context.Context, orderID, reason string) error {
	if orderID == "" {
		return ErrOrderRequired
	}

	now := l.clock.Now()
	var (
		releasedReservation bool
		voidedRedemption    bool
	)

	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		res, err := l.repo.FindReservationByOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if res != nil {
			if err := l.repo.DeleteReservation(txCtx, res.ID); err != nil {
				return err
			}
			releasedReservation = true
		}

		voided, err := l.repo.VoidRedemption(txCtx, orderID, reason, now)
		if err != nil {
			return err
		}
		voidedRedemption = voided
		return nil
	})
	if err != nil {
		return err
	}

	if releasedReservation {
		l.events.Record(ctx, orderID, ActionReleased, reason)
	}
	if voidedRedemption {
		l.events.Record(ctx, orderID, ActionVoided, reason)
	}
	return nil
}
