package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/money"
)

// Config holds the complete application configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `env:"DATABASE_URL" usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `env:"API_KEY_PEPPER" usage:"HMAC pepper for API key hashing (PROMO_API_KEY_PEPPER)" flag:"api-key-pepper"`

	// ReservationTTL is how long a capacity hold survives without redemption.
	ReservationTTL time.Duration `env:"RESERVATION_TTL" default:"24h" usage:"Reservation lifetime" flag:"reservation-ttl"`
	// CodeAttempts bounds unique code generation retries.
	CodeAttempts int `env:"CODE_ATTEMPTS" default:"20" usage:"Max attempts to generate a unique coupon code" flag:"code-attempts"`

	Checkout  CheckoutConfig  `env:"CHECKOUT"`
	RateLimit RateLimitConfig `env:"RATE_LIMIT"`
	CORS      CORSConfig      `env:"CORS"`
	Graceful  GracefulConfig  `env:"GRACEFUL"`
}

// CheckoutConfig holds the store-wide checkout parameters the engine needs.
// Money values are strings so they parse into exact decimals.
type CheckoutConfig struct {
	ShippingFee           string `env:"SHIPPING_FEE" default:"12.00" usage:"Flat shipping fee" flag:"shipping-fee"`
	FreeShippingThreshold string `env:"FREE_SHIPPING_THRESHOLD" default:"150.00" usage:"Subtotal at which shipping becomes free (0 disables)" flag:"free-shipping-threshold"`
	Rounding              string `default:"half_up" usage:"Money rounding mode: half_up or half_even"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `env:"ALLOW_CREDENTIALS" default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `env:"READINESS_DELAY" default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults, then validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}
	if cfg.ReservationTTL <= 0 {
		return nil, errors.New("reservation TTL must be positive")
	}
	if _, err := cfg.checkout(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkout parses the checkout section into domain values.
func (c *Config) checkout() (cart.CheckoutConfig, error) {
	fee, err := decimal.NewFromString(c.Checkout.ShippingFee)
	if err != nil {
		return cart.CheckoutConfig{}, errors.Wrap(err, "parse shipping fee")
	}
	threshold, err := decimal.NewFromString(c.Checkout.FreeShippingThreshold)
	if err != nil {
		return cart.CheckoutConfig{}, errors.Wrap(err, "parse free shipping threshold")
	}
	rounding, err := money.ParseRounding(c.Checkout.Rounding)
	if err != nil {
		return cart.CheckoutConfig{}, err
	}
	return cart.CheckoutConfig{
		ShippingFee:           fee,
		FreeShippingThreshold: threshold,
		Rounding:              rounding,
	}, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the PROMO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
