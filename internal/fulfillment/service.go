// Package fulfillment wires payments, shipments, carrier calls and webhook
// ingestion into the use cases exposed over HTTP.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/payment"
	"github.com/tournevent/fulfillment/internal/shipment"
	"github.com/tournevent/fulfillment/internal/store"
	"github.com/tournevent/fulfillment/internal/webhook"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const slotLayout = "15:04:05"

// Config holds carrier defaults applied when a request leaves them out.
type Config struct {
	LabelSize      shipper.LabelSize
	PickupLocation string
}

// Service is the synchronization layer between checkout, sellers and the
// carrier.
type Service struct {
	cfg      Config
	store    store.Store
	carrier  shipper.Carrier
	payments *payment.Manager
	machine  *shipment.Machine
	webhooks *webhook.Processor
	logger   *otelzap.Logger
	now      func() time.Time
}

// NewService creates the orchestrator.
func NewService(
	cfg Config,
	st store.Store,
	carrier shipper.Carrier,
	payments *payment.Manager,
	machine *shipment.Machine,
	webhooks *webhook.Processor,
	logger *otelzap.Logger,
) *Service {
	if cfg.LabelSize == "" {
		cfg.LabelSize = shipper.LabelSize4R
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		carrier:  carrier,
		payments: payments,
		machine:  machine,
		webhooks: webhooks,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder creates an order with its payment order, or returns the
// existing pair for a repeated idempotency key.
func (s *Service) CreateOrder(ctx context.Context, req payment.CreateRequest) (*payment.Result, error) {
	return s.payments.CreateOrGet(ctx, req)
}

// ConfirmPayment records the payment provider's verdict.
func (s *Service) ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*domain.PaymentOrder, error) {
	return s.payments.Confirm(ctx, req)
}

// ShipmentInput describes the parcel for a new shipment.
type ShipmentInput struct {
	Consignee      shipper.Address
	Package        shipper.Package
	PaymentMode    string // Prepaid or COD
	CODAmountMinor int64
	PickupLocation string
}

// CreateShipment books a waybill with the carrier for a seller's order and
// stores it as created. An order holds at most one active shipment.
func (s *Service) CreateShipment(ctx context.Context, sellerID, orderID string, in ShipmentInput) (*domain.Shipment, error) {
	if sellerID == "" {
		return nil, domain.ErrUnauthorized
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != sellerID {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrForbidden)
	}

	mode, err := paymentMode(in.PaymentMode)
	if err != nil {
		return nil, err
	}
	if in.Consignee.Name == "" || in.Consignee.PostalCode == "" || in.Consignee.Line1 == "" {
		return nil, fmt.Errorf("%w: consignee name, address and postal code are required", domain.ErrInvalidInput)
	}

	existing, err := s.store.ListShipmentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	replacing := false
	for _, sh := range existing {
		if sh.Active() {
			return nil, fmt.Errorf("order %s already has shipment %s: %w", orderID, sh.AWB, domain.ErrConflict)
		}
		if sh.Status == shipper.StatusCancelled {
			replacing = true
		}
	}
	// An order cancelled through its shipment can be booked again.
	replacing = replacing && order.Status == domain.OrderStatusCancelled
	if !replacing && !shippable(order.Status, mode) {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrConflict)
	}

	location := in.PickupLocation
	if location == "" {
		location = s.cfg.PickupLocation
	}
	codAmount := int64(0)
	if mode == "COD" {
		codAmount = in.CODAmountMinor
		if codAmount == 0 {
			codAmount = order.AmountMinor
		}
	}

	resp, err := s.carrier.CreateShipment(ctx, &shipper.CreateShipmentRequest{
		OrderID:        order.ID,
		PickupLocation: location,
		Consignee:      in.Consignee,
		Package:        in.Package,
		PaymentMode:    mode,
		CODAmountMinor: codAmount,
		DeclaredMinor:  order.AmountMinor,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	sh := &domain.Shipment{
		AWB:       resp.AWB,
		OrderID:   order.ID,
		SellerID:  order.SellerID,
		Status:    shipper.StatusCreated,
		Metadata:  resp.Raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertShipment(ctx, sh); err != nil {
		s.logger.Ctx(ctx).Error("Booked waybill could not be stored",
			zap.String("awb", resp.AWB),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrConflict) {
			s.releaseWaybill(ctx, resp.AWB)
		}
		return nil, err
	}

	if replacing {
		reopened := domain.OrderStatusPaid
		if mode == "COD" {
			reopened = domain.OrderStatusPendingPayment
		}
		if err := s.store.UpdateOrderStatus(ctx, order.ID, reopened); err != nil {
			s.logger.Ctx(ctx).Error("Failed to reopen order for replacement shipment",
				zap.String("order_id", order.ID),
				zap.String("awb", sh.AWB),
				zap.Error(err),
			)
		}
	}

	s.logger.Ctx(ctx).Info("Shipment created",
		zap.String("awb", sh.AWB),
		zap.String("order_id", sh.OrderID),
		zap.String("carrier", s.carrier.Name()),
		zap.Bool("replacement", replacing),
	)
	return sh, nil
}

// releaseWaybill cancels a waybill that lost a race for its order. The
// result is only logged.
func (s *Service) releaseWaybill(ctx context.Context, awb string) {
	ack, err := s.carrier.CancelShipment(ctx, awb)
	switch {
	case err != nil:
		s.logger.Ctx(ctx).Error("Failed to release orphaned waybill", zap.String("awb", awb), zap.Error(err))
	case !ack.Accepted:
		s.logger.Ctx(ctx).Error("Carrier did not acknowledge orphaned waybill release", zap.String("awb", awb))
	default:
		s.logger.Ctx(ctx).Warn("Released orphaned waybill", zap.String("awb", awb))
	}
}

// ProcessWebhook ingests one carrier callback and returns its result.
func (s *Service) ProcessWebhook(ctx context.Context, body []byte, signature string) (string, error) {
	return s.webhooks.Process(ctx, body, signature)
}

// CancelShipment cancels a seller's shipment with the carrier.
func (s *Service) CancelShipment(ctx context.Context, sellerID, awb string) (*domain.Shipment, error) {
	return s.machine.Cancel(ctx, awb, sellerID)
}

// PickupInput is a seller's pickup request. Date is YYYY-MM-DD and Slot
// HH:MM:SS.
type PickupInput struct {
	Date     string
	Slot     string
	Location string
}

// SchedulePickup requests a carrier pickup for a seller's shipment.
func (s *Service) SchedulePickup(ctx context.Context, sellerID, awb string, in PickupInput) (*domain.Shipment, error) {
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(in.Date))
	if err != nil {
		return nil, fmt.Errorf("%w: pickup date must be YYYY-MM-DD", domain.ErrInvalidInput)
	}
	if _, err := time.Parse(slotLayout, strings.TrimSpace(in.Slot)); err != nil {
		return nil, fmt.Errorf("%w: pickup slot must be HH:MM:SS", domain.ErrInvalidInput)
	}
	today := s.now().Truncate(24 * time.Hour)
	if date.Before(today) {
		return nil, fmt.Errorf("%w: pickup date is in the past", domain.ErrInvalidInput)
	}

	location := in.Location
	if location == "" {
		location = s.cfg.PickupLocation
	}
	return s.machine.SchedulePickup(ctx, awb, sellerID, shipment.PickupInput{
		Location: location,
		Date:     date,
		Slot:     strings.TrimSpace(in.Slot),
	})
}

// Label returns a seller's shipping label. A label URL fetched fresh from
// the carrier is cached on the shipment.
func (s *Service) Label(ctx context.Context, sellerID, awb, size string) (*shipper.Label, error) {
	preferred, err := labelSize(size, s.cfg.LabelSize)
	if err != nil {
		return nil, err
	}
	sh, err := s.GetShipment(ctx, sellerID, awb)
	if err != nil {
		return nil, err
	}

	label, err := s.carrier.FetchLabel(ctx, &shipper.LabelRequest{
		AWB:           awb,
		PreferredSize: preferred,
		CachedURL:     sh.LabelURL,
	})
	if err != nil {
		return nil, err
	}

	if !label.Cached && label.URL != "" && label.URL != sh.LabelURL {
		if err := s.store.SetShipmentLabel(ctx, awb, label.URL); err != nil {
			s.logger.Ctx(ctx).Warn("Failed to cache label URL", zap.String("awb", awb), zap.Error(err))
		}
	}
	return label, nil
}

// GetShipment returns a shipment owned by sellerID.
func (s *Service) GetShipment(ctx context.Context, sellerID, awb string) (*domain.Shipment, error) {
	if sellerID == "" {
		return nil, domain.ErrUnauthorized
	}
	sh, err := s.store.GetShipment(ctx, awb)
	if err != nil {
		return nil, err
	}
	if sh.SellerID != sellerID {
		return nil, fmt.Errorf("shipment %s: %w", awb, domain.ErrForbidden)
	}
	return sh, nil
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func paymentMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "prepaid":
		return "Prepaid", nil
	case "cod":
		return "COD", nil
	}
	return "", fmt.Errorf("%w: payment mode must be Prepaid or COD", domain.ErrInvalidInput)
}

// shippable reports whether an order in status may get its first or a
// replacement shipment. Cash on delivery orders ship before payment. Orders
// cancelled through their shipment are handled by CreateShipment, which
// reopens them.
func shippable(status domain.OrderStatus, mode string) bool {
	switch status {
	case domain.OrderStatusPaid:
		return true
	case domain.OrderStatusPendingPayment:
		return mode == "COD"
	}
	return false
}

func labelSize(size string, fallback shipper.LabelSize) (shipper.LabelSize, error) {
	switch shipper.LabelSize(strings.ToUpper(strings.TrimSpace(size))) {
	case "":
		return fallback, nil
	case shipper.LabelSizeA4:
		return shipper.LabelSizeA4, nil
	case shipper.LabelSize4R:
		return shipper.LabelSize4R, nil
	}
	return "", fmt.Errorf("%w: label size must be A4 or 4R", domain.ErrInvalidInput)
}
