package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/payment"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fulfillment is the use-case layer the HTTP handlers call.
type Fulfillment interface {
	CreateOrder(ctx context.Context, req payment.CreateRequest) (*payment.Result, error)
	ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*domain.PaymentOrder, error)
	CreateShipment(ctx context.Context, sellerID, orderID string, in fulfillment.ShipmentInput) (*domain.Shipment, error)
	ProcessWebhook(ctx context.Context, body []byte, signature string) (string, error)
	CancelShipment(ctx context.Context, sellerID, awb string) (*domain.Shipment, error)
	SchedulePickup(ctx context.Context, sellerID, awb string, in fulfillment.PickupInput) (*domain.Shipment, error)
	Label(ctx context.Context, sellerID, awb, size string) (*shipper.Label, error)
	GetShipment(ctx context.Context, sellerID, awb string) (*domain.Shipment, error)
	Ready(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	Port            int
	SignatureHeader string
	ShutdownTimeout time.Duration
}

// Server is the HTTP server for the fulfillment service.
type Server struct {
	cfg      Config
	svc      Fulfillment
	logger   *otelzap.Logger
	gatherer prometheus.Gatherer
}

// New creates a new server instance. Metrics are served from gatherer.
func New(cfg Config, svc Fulfillment, logger *otelzap.Logger, gatherer prometheus.Gatherer) *Server {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Delhivery-Signature"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		cfg:      cfg,
		svc:      svc,
		logger:   logger,
		gatherer: gatherer,
	}
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h))
	}
	route("POST /webhooks/delhivery", s.handleWebhook)
	route("POST /v1/orders", s.handleCreateOrder)
	route("POST /v1/payment-orders/{id}/confirm", s.handleConfirmPayment)
	route("POST /v1/orders/{orderId}/shipments", s.handleCreateShipment)
	route("GET /v1/shipments/{awb}", s.handleGetShipment)
	route("POST /v1/shipments/{awb}/cancel", s.handleCancelShipment)
	route("POST /v1/shipments/{awb}/pickup", s.handleSchedulePickup)
	route("GET /v1/shipments/{awb}/label", s.handleLabel)

	return otelhttp.NewHandler(mux, "fulfillment",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ready(r.Context()); err != nil {
		s.logger.Ctx(r.Context()).Warn("Health check failed", zap.Error(err))
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
