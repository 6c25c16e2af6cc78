package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/payment"
	"github.com/tournevent/fulfillment/internal/server"
	"github.com/tournevent/fulfillment/internal/shipment"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/internal/webhook"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"go.uber.org/zap"
)

var version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fulfillment",
	Short:   "Order fulfillment sync - payments, carrier shipments and status webhooks",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrate("up"),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the last migration",
	RunE:  runMigrate("down"),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE:  runMigrate("version"),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer func() { _ = tracerShutdown(context.Background()) }()
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	st, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	carrier := initCarrier(cfg, logger, metrics)

	publisher := initPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to flush events", zap.Error(err))
		}
	}()

	machine := shipment.NewMachine(st, carrier, publisher, logger, metrics)
	svc := fulfillment.NewService(
		fulfillment.Config{
			LabelSize:      shipper.LabelSize(cfg.CarrierLabelSize),
			PickupLocation: cfg.CarrierPickupLocation,
		},
		st,
		carrier,
		payment.NewManager(st, logger, metrics),
		machine,
		webhook.NewProcessor(webhook.NewVerifier(cfg.WebhookSecret, cfg.AllowUnsignedWebhooks()), machine, logger, metrics),
		logger,
	)

	if cfg.WebhookSecret == "" {
		logger.Warn("No webhook secret configured",
			zap.Bool("accept_unsigned", cfg.AllowUnsignedWebhooks()),
		)
	}

	logger.Info("Starting fulfillment sync",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.String("carrier", carrier.Name()),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("kafka", len(cfg.KafkaBrokers) > 0),
	)

	// Start HTTP server
	srv := server.New(server.Config{
		Port:            cfg.Port,
		SignatureHeader: cfg.WebhookSignatureHeader,
	}, svc, logger, prometheus.DefaultGatherer)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runMigrate(direction string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}

		m, err := initMigrator(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		out := cmd.OutOrStdout()
		switch direction {
		case "up":
			changed, err := m.Up()
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			if !changed {
				fmt.Fprintln(out, "no change")
				return nil
			}
			fmt.Fprintln(out, "migrations applied")
		case "down":
			changed, err := m.Down()
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			if !changed {
				fmt.Fprintln(out, "no change")
				return nil
			}
			fmt.Fprintln(out, "last migration reverted")
		case "version":
			v, dirty, ok, err := m.Version()
			if err != nil {
				return fmt.Errorf("migrate version: %w", err)
			}
			if !ok {
				fmt.Fprintln(out, "no migrations applied")
				return nil
			}
			fmt.Fprintf(out, "version %d (dirty: %t)\n", v, dirty)
		}
		return nil
	}
}
