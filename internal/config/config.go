// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/imrishuroy/go-clothing-orderflow/internal/metrics"
)

const (
	defaultItemsTable       = "clothing-items"
	defaultCustomersTable   = "clothing-customers"
	defaultOrdersTable      = "clothing-orders"
	defaultIdempotencyTable = "clothing-idempotency"
	defaultIdempotencyTTL   = 48 * time.Hour
	defaultHTTPAddr         = ":8080"
	defaultLogLevel         = "info"
	defaultMetricsNamespace = "clothing_orderflow"
	defaultPointValue       = 100.0
)

// Config is the union of settings used by the api and worker binaries.
type Config struct {
	ItemsTable       string
	CustomersTable   string
	OrdersTable      string
	IdempotencyTable string
	QueueURL         string
	IdempotencyTTL   time.Duration

	RunLocal bool
	HTTPAddr string
	LogLevel string

	OTELEndpoint     string
	MetricsBackend   string
	MetricsNamespace string

	// LoyaltyPointValue is the order total that earns one loyalty point.
	LoyaltyPointValue float64
}

// Load reads the environment, applying defaults for unset variables.
func Load() (*Config, error) {
	cfg := &Config{
		ItemsTable:       getenv("ITEMS_TABLE", defaultItemsTable),
		CustomersTable:   getenv("CUSTOMERS_TABLE", defaultCustomersTable),
		OrdersTable:      getenv("ORDERS_TABLE", defaultOrdersTable),
		IdempotencyTable: getenv("IDEMPOTENCY_TABLE", defaultIdempotencyTable),
		QueueURL:         os.Getenv("ORDERS_QUEUE_URL"),
		RunLocal:         os.Getenv("RUN_LOCAL") == "true",
		HTTPAddr:         getenv("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:         getenv("LOG_LEVEL", defaultLogLevel),
		OTELEndpoint:     os.Getenv("OTEL_ENDPOINT"),
		MetricsBackend:   getenv("METRICS_BACKEND", metrics.BackendPrometheus),
		MetricsNamespace: getenv("METRICS_NAMESPACE", defaultMetricsNamespace),
	}

	var errs error
	ttl, err := time.ParseDuration(getenv("IDEMPOTENCY_TTL", defaultIdempotencyTTL.String()))
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("IDEMPOTENCY_TTL: %w", err))
	} else if ttl <= 0 {
		errs = errors.Join(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}
	cfg.IdempotencyTTL = ttl

	cfg.LoyaltyPointValue = defaultPointValue
	if v := os.Getenv("LOYALTY_POINT_VALUE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil:
			errs = errors.Join(errs, fmt.Errorf("LOYALTY_POINT_VALUE: %w", err))
		case f <= 0:
			errs = errors.Join(errs, errors.New("LOYALTY_POINT_VALUE must be positive"))
		default:
			cfg.LoyaltyPointValue = f
		}
	}

	if err := metrics.ValidateBackend(cfg.MetricsBackend); err != nil {
		errs = errors.Join(errs, fmt.Errorf("METRICS_BACKEND: %w", err))
	}

	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
