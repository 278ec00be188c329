// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Catalog backends.
const (
	CatalogDynamoDB = "dynamodb"
	CatalogPostgres = "postgres"
	CatalogMemory   = "memory"
)

type Config struct {
	RunLocal bool
	Port     int

	AWSRegion           string
	AWSEndpointOverride string
	CloudWatchNamespace string

	OrdersTable      string
	ProductsTable    string
	IdempotencyTable string
	IdempotencyTTL   time.Duration
	OrdersQueueURL   string
	PaymentsQueueURL string

	CatalogBackend string
	PostgresDSN    string

	RedisAddr string
	CartTTL   time.Duration

	JWTSecret string

	PaymentGatewayURL string
	PaymentGatewayKey string
	PaymentSuccessURL string
	PaymentCancelURL  string
	PaymentCurrency   string
	PaymentFake       bool

	// ShippingFee is the flat shipping charged on new orders.
	ShippingFee decimal.Decimal

	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		Port:                8080,
		AWSRegion:           "us-east-1",
		CloudWatchNamespace: "GroceryOrderflow",
		OrdersTable:         "orders",
		ProductsTable:       "products",
		IdempotencyTable:    "idempotency",
		IdempotencyTTL:      48 * time.Hour,
		CatalogBackend:      CatalogDynamoDB,
		RedisAddr:           "localhost:6379",
		CartTTL:             7 * 24 * time.Hour,
		PaymentGatewayURL:   "https://api.stripe.com",
		PaymentSuccessURL:   "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		PaymentCancelURL:    "http://localhost:3000/checkout/cancel",
		PaymentCurrency:     "inr",
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load returns Default overridden by any set environment variables.
func Load() (Config, error) {
	return fromEnv(Default(), os.Getenv)
}

func fromEnv(c Config, getenv func(string) string) (Config, error) {
	var err error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = d
		}
	}

	boolean("RUN_LOCAL", &c.RunLocal)
	if v := getenv("PORT"); v != "" {
		p, perr := strconv.Atoi(v)
		if perr != nil {
			return c, fmt.Errorf("PORT: %w", perr)
		}
		c.Port = p
	}

	str("AWS_REGION", &c.AWSRegion)
	str("AWS_ENDPOINT_OVERRIDE", &c.AWSEndpointOverride)
	str("CLOUDWATCH_NAMESPACE", &c.CloudWatchNamespace)

	str("ORDERS_TABLE", &c.OrdersTable)
	str("PRODUCTS_TABLE", &c.ProductsTable)
	str("IDEMPOTENCY_TABLE", &c.IdempotencyTable)
	duration("IDEMPOTENCY_TTL", &c.IdempotencyTTL)
	str("ORDERS_QUEUE_URL", &c.OrdersQueueURL)
	str("PAYMENTS_QUEUE_URL", &c.PaymentsQueueURL)

	str("CATALOG_BACKEND", &c.CatalogBackend)
	str("POSTGRES_DSN", &c.PostgresDSN)

	str("REDIS_ADDR", &c.RedisAddr)
	duration("CART_TTL", &c.CartTTL)

	str("JWT_SECRET", &c.JWTSecret)

	str("PAYMENT_GATEWAY_URL", &c.PaymentGatewayURL)
	str("PAYMENT_GATEWAY_KEY", &c.PaymentGatewayKey)
	str("PAYMENT_SUCCESS_URL", &c.PaymentSuccessURL)
	str("PAYMENT_CANCEL_URL", &c.PaymentCancelURL)
	str("PAYMENT_CURRENCY", &c.PaymentCurrency)
	boolean("PAYMENT_FAKE", &c.PaymentFake)
	if v := getenv("SHIPPING_FEE"); v != "" && err == nil {
		fee, perr := decimal.NewFromString(v)
		if perr != nil {
			err = fmt.Errorf("SHIPPING_FEE: %w", perr)
		} else {
			c.ShippingFee = fee
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch c.CatalogBackend {
	case CatalogDynamoDB, CatalogMemory:
	case CatalogPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when CATALOG_BACKEND=%s", CatalogPostgres)
		}
	default:
		return fmt.Errorf("unknown CATALOG_BACKEND %q", c.CatalogBackend)
	}
	if c.ShippingFee.IsNegative() {
		return fmt.Errorf("SHIPPING_FEE must be >= 0")
	}
	if c.JWTSecret == "" && !c.RunLocal {
		return fmt.Errorf("JWT_SECRET is required outside local mode")
	}
	if !c.PaymentFake && c.PaymentGatewayKey == "" && !c.RunLocal {
		return fmt.Errorf("PAYMENT_GATEWAY_KEY is required unless PAYMENT_FAKE=true")
	}
	return nil
}

// Addr is the listen address for the local HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
