package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

const EnvironmentProduction = "production"

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile     string `envconfig:"LOG_FILE"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Storage; empty selects the in-memory store
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Carrier
	CarrierBaseURL        string        `envconfig:"CARRIER_BASE_URL" default:"https://track.delhivery.com"`
	CarrierAPIToken       string        `envconfig:"CARRIER_API_TOKEN"`
	CarrierTimeout        time.Duration `envconfig:"CARRIER_TIMEOUT" default:"15s"`
	CarrierUseMock        bool          `envconfig:"CARRIER_USE_MOCK" default:"false"`
	CarrierLabelSize      string        `envconfig:"CARRIER_LABEL_SIZE" default:"4R"`
	CarrierPickupLocation string        `envconfig:"CARRIER_PICKUP_LOCATION"`

	// Webhook
	WebhookSecret          string `envconfig:"WEBHOOK_SECRET"`
	WebhookSignatureHeader string `envconfig:"WEBHOOK_SIGNATURE_HEADER" default:"X-Delhivery-Signature"`
	WebhookAllowUnsigned   bool   `envconfig:"WEBHOOK_ALLOW_UNSIGNED" default:"false"`

	// Events
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"shipment.status_changed"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"fulfillment-sync"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.1.0"`
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.CarrierLabelSize) {
	case "A4", "4R":
		c.CarrierLabelSize = strings.ToUpper(c.CarrierLabelSize)
	default:
		return fmt.Errorf("loading config: CARRIER_LABEL_SIZE must be A4 or 4R, got %q", c.CarrierLabelSize)
	}
	if c.CarrierTimeout <= 0 {
		return fmt.Errorf("loading config: CARRIER_TIMEOUT must be positive")
	}
	if c.Production() && c.WebhookSecret == "" {
		return fmt.Errorf("loading config: WEBHOOK_SECRET is required in production")
	}
	return nil
}

// Production reports whether the service runs in production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// AllowUnsignedWebhooks reports whether unsigned webhooks may be accepted.
// It is always false in production.
func (c *Config) AllowUnsignedWebhooks() bool {
	return c.WebhookAllowUnsigned && !c.Production()
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("deployment.environment", c.Environment),
		attribute.Bool("carrier.mock", c.CarrierUseMock),
		attribute.Bool("store.postgres", c.DatabaseURL != ""),
		attribute.Bool("events.kafka", len(c.KafkaBrokers) > 0),
	}
}
