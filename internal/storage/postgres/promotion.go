package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	getPromotionByIDSQL = `SELECT id, key, discount_type, percent_off, amount_off,
		max_discount, min_subtotal, allow_on_sale_items, first_order_only,
		active, starts_at, ends_at
		FROM promotions WHERE id = $1`

	getPromotionScopesSQL = `SELECT entity_type, mode, entity_id
		FROM promotion_scopes WHERE promotion_id = $1`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	db *DB
}

// NewPromotionRepository returns a PromotionRepository using the given DB.
func NewPromotionRepository(db *DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

// GetByID returns a promotion with its scope rules, or promotion.ErrNotFound.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getPromotionByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion %q: %w", id, err)
	}

	scopeRows, err := r.db.conn(ctx).Query(ctx, getPromotionScopesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("loading scopes for promotion %q: %w", id, err)
	}
	p.Scopes, err = pgx.CollectRows(scopeRows, scanScope)
	if err != nil {
		return nil, fmt.Errorf("loading scopes for promotion %q: %w", id, err)
	}

	return &p, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
	)
	err := row.Scan(
		&p.ID, &p.Key, &discountType, &p.PercentOff, &p.AmountOff,
		&p.MaxDiscount, &p.MinSubtotal, &p.AllowOnSaleItems, &p.FirstOrderOnly,
		&p.Active, &p.StartsAt, &p.EndsAt,
	)
	p.DiscountType = promotion.DiscountType(discountType)
	return p, err
}

func scanScope(row pgx.CollectableRow) (promotion.Scope, error) {
	var (
		s          promotion.Scope
		entityType string
		mode       string
	)
	err := row.Scan(&entityType, &mode, &s.EntityID)
	s.EntityType = promotion.ScopeEntity(entityType)
	s.Mode = promotion.ScopeMode(mode)
	return s, err
}
