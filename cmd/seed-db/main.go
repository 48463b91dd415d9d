// Command seed-db loads demo products, promotions, and coupons into the
// database, plus a default API key for the protected endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	OnSale   bool            `json:"on_sale"`
}

const (
	upsertProductSQL = `INSERT INTO products (id, name, price, category, on_sale)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price,
			category = EXCLUDED.category, on_sale = EXCLUDED.on_sale`

	upsertPromotionSQL = `INSERT INTO promotions (id, key, discount_type, percent_off, amount_off,
			max_discount, min_subtotal, allow_on_sale_items, first_order_only, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key, discount_type = EXCLUDED.discount_type,
			percent_off = EXCLUDED.percent_off, amount_off = EXCLUDED.amount_off,
			max_discount = EXCLUDED.max_discount, min_subtotal = EXCLUDED.min_subtotal,
			allow_on_sale_items = EXCLUDED.allow_on_sale_items,
			first_order_only = EXCLUDED.first_order_only, active = TRUE`

	upsertScopeSQL = `INSERT INTO promotion_scopes (promotion_id, entity_type, mode, entity_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`

	upsertCouponSQL = `INSERT INTO coupons (id, promotion_id, code, visibility, active,
			max_redemptions, per_customer_max)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			promotion_id = EXCLUDED.promotion_id, code = EXCLUDED.code,
			visibility = EXCLUDED.visibility, active = TRUE,
			max_redemptions = EXCLUDED.max_redemptions,
			per_customer_max = EXCLUDED.per_customer_max`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			scopes = EXCLUDED.scopes, active = TRUE`
)

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedPromotions(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Category, p.OnSale); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

type promotionSeed struct {
	id           string
	key          string
	discountType string
	percentOff   decimal.Decimal
	amountOff    decimal.Decimal
	maxDiscount  decimal.Decimal
	minSubtotal  decimal.Decimal
	allowOnSale  bool
	firstOrder   bool
	scopes       [][3]string
}

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo promotions")

	promotions := []promotionSeed{
		{
			id:           "promo-welcome",
			key:          "welcome-10",
			discountType: "percent",
			percentOff:   decimal.NewFromInt(10),
			firstOrder:   true,
		},
		{
			id:           "promo-summer",
			key:          "summer-15",
			discountType: "percent",
			percentOff:   decimal.NewFromInt(15),
			maxDiscount:  decimal.NewFromInt(30),
			minSubtotal:  decimal.NewFromInt(50),
			scopes: [][3]string{
				{"category", "include", "outdoor"},
				{"product", "exclude", "prod-grill-xl"},
			},
		},
		{
			id:           "promo-freeship",
			key:          "free-shipping",
			discountType: "free_shipping",
		},
		{
			id:           "promo-fiver",
			key:          "five-off",
			discountType: "amount",
			amountOff:    decimal.NewFromInt(5),
			minSubtotal:  decimal.NewFromInt(25),
			allowOnSale:  true,
		},
	}

	for _, p := range promotions {
		if _, err := pool.Exec(ctx, upsertPromotionSQL,
			p.id, p.key, p.discountType, p.percentOff, p.amountOff,
			p.maxDiscount, p.minSubtotal, p.allowOnSale, p.firstOrder,
		); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.key)
		}

		for _, s := range p.scopes {
			if _, err := pool.Exec(ctx, upsertScopeSQL, p.id, s[0], s[1], s[2]); err != nil {
				return errors.Wrapf(err, "upsert scope for %s", p.key)
			}
		}

		slog.Info("upserted promotion", slog.String("key", p.key))
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	coupons := []struct {
		id             string
		promotionID    string
		code           string
		visibility     string
		maxRedemptions int
		perCustomerMax int
	}{
		{id: "cpn-welcome10", promotionID: "promo-welcome", code: "WELCOME10", visibility: "public", perCustomerMax: 1},
		{id: "cpn-summer15", promotionID: "promo-summer", code: "SUMMER15", visibility: "public", maxRedemptions: 500},
		{id: "cpn-shipfree", promotionID: "promo-freeship", code: "SHIPFREE", visibility: "public"},
		{id: "cpn-vip5", promotionID: "promo-fiver", code: "VIP5", visibility: "assigned", perCustomerMax: 3},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, upsertCouponSQL,
			c.id, c.promotionID, c.code, c.visibility, c.maxRedemptions, c.perCustomerMax,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code), slog.String("promotion", c.promotionID))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	keyHash := auth.HashKey([]byte(pepper), apiKey)

	if _, err := pool.Exec(ctx, upsertAPIKeySQL,
		"default", keyHash, "Default test key", []string{"promo:write"},
	); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default test key"))

	return nil
}
