package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

const (
	couponColumns = `id, promotion_id, code, visibility, active, starts_at, ends_at,
		max_redemptions, per_customer_max`

	findCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponForUpdateSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1 FOR UPDATE`

	hasActiveAssignmentSQL = `SELECT EXISTS (
		SELECT 1 FROM coupon_assignments
		WHERE coupon_id = $1 AND user_id = $2 AND revoked_at IS NULL)`

	countUsageSQL = `SELECT
		(SELECT COUNT(*) FROM coupon_redemptions
			WHERE coupon_id = $1 AND voided_at IS NULL),
		(SELECT COUNT(*) FROM coupon_reservations
			WHERE coupon_id = $1 AND expires_at > $3),
		(SELECT COUNT(*) FROM coupon_redemptions
			WHERE coupon_id = $1 AND voided_at IS NULL AND user_id = $2),
		(SELECT COUNT(*) FROM coupon_reservations
			WHERE coupon_id = $1 AND expires_at > $3 AND user_id = $2)`

	codeExistsSQL = `SELECT EXISTS (
		SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1))`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listCouponCodesSQL = `SELECT code FROM coupons`
)

var (
	_ coupon.Catalog     = (*CouponRepository)(nil)
	_ coupon.CodeChecker = (*CouponRepository)(nil)
)

// CouponRepository implements coupon.Catalog and coupon.CodeChecker backed by
// PostgreSQL.
type CouponRepository struct {
	db *DB
}

// NewCouponRepository returns a CouponRepository using the given DB.
func NewCouponRepository(db *DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode looks up a coupon by its code, case-insensitively. Returns
// coupon.ErrNotFound when no such code exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.db.conn(ctx).Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	cpn, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &cpn, nil
}

// GetForUpdate loads a coupon by id under an exclusive row lock. Must be
// called inside WithTx; the lock is held until the transaction ends.
func (r *CouponRepository) GetForUpdate(ctx context.Context, couponID string) (*coupon.Coupon, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getCouponForUpdateSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("locking coupon %q: %w", couponID, err)
	}

	cpn, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("locking coupon %q: %w", couponID, err)
	}
	return &cpn, nil
}

// HasActiveAssignment reports whether the user holds a non-revoked assignment
// for the coupon.
func (r *CouponRepository) HasActiveAssignment(ctx context.Context, couponID, userID string) (bool, error) {
	var assigned bool
	err := r.db.conn(ctx).QueryRow(ctx, hasActiveAssignmentSQL, couponID, userID).Scan(&assigned)
	if err != nil {
		return false, fmt.Errorf("checking assignment for coupon %q: %w", couponID, err)
	}
	return assigned, nil
}

// CountUsage returns capacity consumption as of now: non-voided redemptions
// plus unexpired reservations, globally and for the given user.
func (r *CouponRepository) CountUsage(ctx context.Context, couponID, userID string, now time.Time) (coupon.Usage, error) {
	var u coupon.Usage
	err := r.db.conn(ctx).QueryRow(ctx, countUsageSQL, couponID, userID, now).Scan(
		&u.Redeemed, &u.Reserved, &u.CustomerRedeemed, &u.CustomerReserved,
	)
	if err != nil {
		return coupon.Usage{}, fmt.Errorf("counting usage for coupon %q: %w", couponID, err)
	}
	return u, nil
}

// CodeExists reports whether any coupon already uses the code,
// case-insensitively.
func (r *CouponRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.conn(ctx).QueryRow(ctx, codeExistsSQL, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking code %q: %w", code, err)
	}
	return exists, nil
}

// Create inserts a new coupon. Returns coupon.ErrCodeTaken when the code
// collides with an existing one.
func (r *CouponRepository) Create(ctx context.Context, cpn coupon.Coupon) error {
	_, err := r.db.conn(ctx).Exec(ctx, createCouponSQL,
		cpn.ID, cpn.PromotionID, cpn.Code, string(cpn.Visibility), cpn.Active,
		cpn.StartsAt, cpn.EndsAt, cpn.MaxRedemptions, cpn.PerCustomerMax,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", cpn.Code, err)
	}
	return nil
}

// ListCodes streams every existing coupon code to fn. Used to pre-screen
// candidate codes during bulk issuance.
func (r *CouponRepository) ListCodes(ctx context.Context, fn func(code string) error) error {
	rows, err := r.db.conn(ctx).Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return fmt.Errorf("scanning coupon code: %w", err)
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		cpn        coupon.Coupon
		visibility string
	)
	err := row.Scan(
		&cpn.ID, &cpn.PromotionID, &cpn.Code, &visibility, &cpn.Active,
		&cpn.StartsAt, &cpn.EndsAt, &cpn.MaxRedemptions, &cpn.PerCustomerMax,
	)
	cpn.Visibility = coupon.Visibility(visibility)
	return cpn, err
}
