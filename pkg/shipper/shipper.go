// Package shipper provides the carrier contract used by the fulfillment
// synchronization layer.
package shipper

import (
	"context"
)

// Carrier defines the outbound operations the synchronization layer performs
// against the logistics provider. Implementations must never return raw
// transport errors: every failure is reported as a *ShipperError.
type Carrier interface {
	// Name returns the carrier identifier (e.g., "delhivery").
	Name() string

	// CreateShipment books a shipment and returns the carrier-assigned waybill.
	CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*CreateShipmentResponse, error)

	// CancelShipment asks the carrier to cancel a waybill.
	CancelShipment(ctx context.Context, awb string) (*Ack, error)

	// RequestPickup schedules a pickup at a registered location.
	RequestPickup(ctx context.Context, req *PickupRequest) (*Ack, error)

	// FetchLabel returns a URL or the inline bytes of the shipping label.
	FetchLabel(ctx context.Context, req *LabelRequest) (*Label, error)
}

// CallRecorder observes outbound carrier calls. Outcome is one of
// "accepted", "not_accepted", "rejected", "unavailable" or "label_unavailable".
type CallRecorder interface {
	RecordProviderCall(operation, outcome string, seconds float64)
}
