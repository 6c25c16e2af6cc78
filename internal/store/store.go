// Package store persists orders, payment orders and shipments. The core
// depends only on the Store interface; memory and PostgreSQL engines are
// provided.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// ShipmentUpdate is the next state written by CompareAndSetShipment. Pickup
// fields are written only when PickupRequestedAt is set.
type ShipmentUpdate struct {
	Status            shipper.ShipmentStatus
	Metadata          json.RawMessage
	PickupDate        *time.Time
	PickupSlot        string
	PickupRequestedAt *time.Time
}

// Store is the persistence collaborator. Lookups of missing records return
// domain.ErrNotFound.
type Store interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error

	GetPaymentOrder(ctx context.Context, id string) (*domain.PaymentOrder, error)
	GetPaymentOrderByKey(ctx context.Context, key string) (*domain.PaymentOrder, error)
	// InsertPaymentOrderIfAbsent stores the order and its payment order
	// together. It reports false, and stores nothing, when a payment order
	// with the same idempotency key already exists.
	InsertPaymentOrderIfAbsent(ctx context.Context, order *domain.Order, po *domain.PaymentOrder) (bool, error)
	// SetPaymentOrderResult moves a payment order out of expected. It
	// reports false when the stored status is no longer expected.
	SetPaymentOrderResult(ctx context.Context, id string, expected, next domain.PaymentStatus, providerOrderID string) (bool, error)

	GetShipment(ctx context.Context, awb string) (*domain.Shipment, error)
	// InsertShipment fails with domain.ErrConflict when the awb exists or
	// the order already has an active shipment.
	InsertShipment(ctx context.Context, s *domain.Shipment) error
	ListShipmentsByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error)
	// CompareAndSetShipment applies update only while the stored status is
	// still expected, as a single atomic step keyed on awb.
	CompareAndSetShipment(ctx context.Context, awb string, expected shipper.ShipmentStatus, update ShipmentUpdate) (bool, error)
	SetShipmentLabel(ctx context.Context, awb, url string) error

	Ping(ctx context.Context) error
	Close() error
}
