package main

import (
	"context"
	"fmt"

	"github.com/tournevent/fulfillment/internal/config"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/messaging"
	"github.com/tournevent/fulfillment/internal/store"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/tournevent/fulfillment/pkg/shipper/delhivery"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel, cfg.LogFile)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return func(context.Context) error { return nil }, nil
	}

	_, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
	return shutdown, err
}

// initStore selects PostgreSQL when DATABASE_URL is set and the in-memory
// store otherwise.
func initStore(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}

	db, err := telemetry.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewPostgres(db), nil
}

func initMigrator(cfg *config.Config) (*store.Migrator, error) {
	return store.NewMigrator(cfg.DatabaseURL)
}

func initCarrier(cfg *config.Config, logger *otelzap.Logger, metrics *telemetry.Metrics) shipper.Carrier {
	return delhivery.New(delhivery.Config{
		BaseURL:          cfg.CarrierBaseURL,
		APIToken:         cfg.CarrierAPIToken,
		Timeout:          cfg.CarrierTimeout,
		UseMock:          cfg.CarrierUseMock,
		DefaultLabelSize: shipper.LabelSize(cfg.CarrierLabelSize),
	}, logger, otel.Tracer(cfg.ServiceName), metrics)
}

// eventPublisher is a shipment.Publisher that can be flushed on shutdown.
type eventPublisher interface {
	PublishStatusChanged(ctx context.Context, event domain.ShipmentStatusChangedEvent) error
	Close() error
}

type noopPublisher struct{}

func (noopPublisher) PublishStatusChanged(context.Context, domain.ShipmentStatusChangedEvent) error {
	return nil
}

func (noopPublisher) Close() error { return nil }

func initPublisher(cfg *config.Config, logger *otelzap.Logger) eventPublisher {
	if len(cfg.KafkaBrokers) == 0 {
		return noopPublisher{}
	}
	logger.Info("Publishing shipment events",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return messaging.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
}
