package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/redemption"
)

const (
	getOrderSQL = `SELECT id, user_id, promo_code FROM orders WHERE id = $1`

	hasDeliveredOrderSQL = `SELECT EXISTS (
		SELECT 1 FROM orders WHERE user_id = $1 AND status = 'delivered')`
)

// OrderRepository reads the order projection owned by the order service. It
// also implements coupon.OrderHistory for the first-order-only rule.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository using the given DB.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetOrder returns the slice of the order the redemption lifecycle needs.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (redemption.Order, error) {
	var ord redemption.Order
	err := r.db.conn(ctx).QueryRow(ctx, getOrderSQL, orderID).Scan(&ord.ID, &ord.UserID, &ord.CouponCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return redemption.Order{}, redemption.ErrOrderNotFound
		}
		return redemption.Order{}, fmt.Errorf("finding order %q: %w", orderID, err)
	}
	return ord, nil
}

// HasDeliveredOrder reports whether the user has any delivered order.
func (r *OrderRepository) HasDeliveredOrder(ctx context.Context, userID string) (bool, error) {
	var delivered bool
	err := r.db.conn(ctx).QueryRow(ctx, hasDeliveredOrderSQL, userID).Scan(&delivered)
	if err != nil {
		return false, fmt.Errorf("checking delivered orders for user %q: %w", userID, err)
	}
	return delivered, nil
}
