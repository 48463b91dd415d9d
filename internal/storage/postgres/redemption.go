package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

const (
	findReservationByOrderSQL = `SELECT id, coupon_id, user_id, order_id,
		discount, shipping_discount, expires_at, created_at
		FROM coupon_reservations WHERE order_id = $1`

	createReservationSQL = `INSERT INTO coupon_reservations
		(id, coupon_id, user_id, order_id, discount, shipping_discount, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	deleteReservationSQL = `DELETE FROM coupon_reservations WHERE id = $1`

	purgeExpiredReservationsSQL = `DELETE FROM coupon_reservations
		WHERE coupon_id = $1 AND expires_at <= $2`

	findRedemptionByOrderSQL = `SELECT id, coupon_id, user_id, order_id,
		discount, shipping_discount, redeemed_at, voided_at, void_reason
		FROM coupon_redemptions WHERE order_id = $1`

	createRedemptionSQL = `INSERT INTO coupon_redemptions
		(id, coupon_id, user_id, order_id, discount, shipping_discount, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	voidRedemptionSQL = `UPDATE coupon_redemptions
		SET voided_at = $3, void_reason = $2
		WHERE order_id = $1 AND voided_at IS NULL`
)

var _ redemption.Repository = (*RedemptionRepository)(nil)

// RedemptionRepository implements redemption.Repository backed by PostgreSQL.
// Coupon lookups and usage counts are delegated to CouponRepository so the
// SQL lives in one place; all calls share the transaction carried by ctx.
type RedemptionRepository struct {
	db      *DB
	coupons *CouponRepository
}

// NewRedemptionRepository returns a RedemptionRepository using the given DB.
func NewRedemptionRepository(db *DB, coupons *CouponRepository) *RedemptionRepository {
	return &RedemptionRepository{db: db, coupons: coupons}
}

// WithTx runs fn inside one database transaction.
func (r *RedemptionRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithTx(ctx, fn)
}

// GetCouponForUpdate loads the coupon under an exclusive row lock.
func (r *RedemptionRepository) GetCouponForUpdate(ctx context.Context, couponID string) (*coupon.Coupon, error) {
	return r.coupons.GetForUpdate(ctx, couponID)
}

// FindCouponByCode looks up a coupon by code, case-insensitively.
func (r *RedemptionRepository) FindCouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.coupons.FindByCode(ctx, code)
}

// HasActiveAssignment reports whether the user holds a non-revoked assignment.
func (r *RedemptionRepository) HasActiveAssignment(ctx context.Context, couponID, userID string) (bool, error) {
	return r.coupons.HasActiveAssignment(ctx, couponID, userID)
}

// CountUsage returns the coupon's capacity consumption as of now.
func (r *RedemptionRepository) CountUsage(ctx context.Context, couponID, userID string, now time.Time) (coupon.Usage, error) {
	return r.coupons.CountUsage(ctx, couponID, userID, now)
}

// FindReservationByOrder returns the order's reservation, or nil when none
// exists.
func (r *RedemptionRepository) FindReservationByOrder(ctx context.Context, orderID string) (*redemption.Reservation, error) {
	rows, err := r.db.conn(ctx).Query(ctx, findReservationByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding reservation for order %q: %w", orderID, err)
	}

	res, err := pgx.CollectExactlyOneRow(rows, scanReservation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding reservation for order %q: %w", orderID, err)
	}
	return &res, nil
}

// CreateReservation inserts a reservation. The unique order_id constraint
// maps to redemption.ErrDuplicateOrder.
func (r *RedemptionRepository) CreateReservation(ctx context.Context, res redemption.Reservation) error {
	_, err := r.db.conn(ctx).Exec(ctx, createReservationSQL,
		res.ID, res.CouponID, res.UserID, res.OrderID,
		res.Discount, res.ShippingDiscount, res.ExpiresAt, res.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return redemption.ErrDuplicateOrder
		}
		return fmt.Errorf("creating reservation for order %q: %w", res.OrderID, err)
	}
	return nil
}

// DeleteReservation removes a reservation by id. Deleting a missing row is
// not an error.
func (r *RedemptionRepository) DeleteReservation(ctx context.Context, id string) error {
	_, err := r.db.conn(ctx).Exec(ctx, deleteReservationSQL, id)
	if err != nil {
		return fmt.Errorf("deleting reservation %q: %w", id, err)
	}
	return nil
}

// PurgeExpiredReservations deletes the coupon's reservations whose expiry has
// passed, returning how many were removed.
func (r *RedemptionRepository) PurgeExpiredReservations(ctx context.Context, couponID string, now time.Time) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, purgeExpiredReservationsSQL, couponID, now)
	if err != nil {
		return 0, fmt.Errorf("purging expired reservations for coupon %q: %w", couponID, err)
	}
	return tag.RowsAffected(), nil
}

// FindRedemptionByOrder returns the order's redemption, voided or not, or nil
// when none exists.
func (r *RedemptionRepository) FindRedemptionByOrder(ctx context.Context, orderID string) (*redemption.Redemption, error) {
	rows, err := r.db.conn(ctx).Query(ctx, findRedemptionByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding redemption for order %q: %w", orderID, err)
	}

	red, err := pgx.CollectExactlyOneRow(rows, scanRedemption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding redemption for order %q: %w", orderID, err)
	}
	return &red, nil
}

// CreateRedemption inserts a ledger row. The unique order_id constraint maps
// to redemption.ErrDuplicateOrder.
func (r *RedemptionRepository) CreateRedemption(ctx context.Context, red redemption.Redemption) error {
	_, err := r.db.conn(ctx).Exec(ctx, createRedemptionSQL,
		red.ID, red.CouponID, red.UserID, red.OrderID,
		red.Discount, red.ShippingDiscount, red.RedeemedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return redemption.ErrDuplicateOrder
		}
		return fmt.Errorf("creating redemption for order %q: %w", red.OrderID, err)
	}
	return nil
}

// VoidRedemption soft-voids the order's redemption in place. Reports whether
// a row transitioned; already-voided and missing rows return false.
func (r *RedemptionRepository) VoidRedemption(ctx context.Context, orderID, reason string, now time.Time) (bool, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, voidRedemptionSQL, orderID, reason, now)
	if err != nil {
		return false, fmt.Errorf("voiding redemption for order %q: %w", orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanReservation(row pgx.CollectableRow) (redemption.Reservation, error) {
	var res redemption.Reservation
	err := row.Scan(
		&res.ID, &res.CouponID, &res.UserID, &res.OrderID,
		&res.Discount, &res.ShippingDiscount, &res.ExpiresAt, &res.CreatedAt,
	)
	return res, err
}

func scanRedemption(row pgx.CollectableRow) (redemption.Redemption, error) {
	var red redemption.Redemption
	err := row.Scan(
		&red.ID, &red.CouponID, &red.UserID, &red.OrderID,
		&red.Discount, &red.ShippingDiscount, &red.RedeemedAt,
		&red.VoidedAt, &red.VoidReason,
	)
	return red, err
}
