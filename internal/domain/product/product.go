package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the slice of catalog data the promo engine needs: the category
// for scope matching and the sale flag for the sale-item exclusion rule.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	OnSale   bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
