package shipper

import (
	"encoding/json"
	"time"
)

// ShipmentStatus represents the normalized status of a shipment.
type ShipmentStatus string

const (
	StatusCreated         ShipmentStatus = "created"
	StatusPickupScheduled ShipmentStatus = "pickup_scheduled"
	StatusInTransit       ShipmentStatus = "in_transit"
	StatusOutForDelivery  ShipmentStatus = "out_for_delivery"
	StatusDelivered       ShipmentStatus = "delivered"
	StatusCancelled       ShipmentStatus = "cancelled"
	StatusRTO             ShipmentStatus = "rto"

	// StatusUpdated is the bucket for carrier vocabulary we do not recognize.
	// It is never stored as a shipment status.
	StatusUpdated ShipmentStatus = "updated"
)

// LabelSize is a paper size accepted by the carrier's label endpoint.
type LabelSize string

const (
	LabelSizeA4 LabelSize = "A4"
	LabelSize4R LabelSize = "4R"
)

// Address represents a consignee address.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Package describes the physical parcel. Weight is in grams and dimensions in
// centimetres, as the carrier expects.
type Package struct {
	WeightGrams int
	LengthCM    float64
	WidthCM     float64
	HeightCM    float64
	Description string
}

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateShipmentRequest is the request for booking a shipment.
type CreateShipmentRequest struct {
	OrderID        string
	PickupLocation string // registered warehouse name at the carrier
	Consignee      Address
	Package        Package
	PaymentMode    string // "Prepaid" or "COD"
	CODAmountMinor int64
	DeclaredMinor  int64
}

// CreateShipmentResponse carries the waybill and the raw provider payload.
type CreateShipmentResponse struct {
	AWB string
	Raw json.RawMessage
}

// Ack is the reduced outcome of a carrier call whose acknowledgment is not
// a reliable status code. Accepted is only true when the response could be
// classified as success.
type Ack struct {
	Accepted bool
	Raw      json.RawMessage
}

// PickupRequest is the request for scheduling a pickup.
type PickupRequest struct {
	Location     string
	Date         time.Time
	SlotTime     string // HH:MM:SS
	PackageCount int
}

// LabelRequest is the request for fetching a shipping label.
type LabelRequest struct {
	AWB           string
	PreferredSize LabelSize
	// CachedURL is a previously stored label location. When set, it is
	// probed first and only regenerated when the probe fails.
	CachedURL string
}

// Label is either a hosted PDF location or inline PDF bytes.
type Label struct {
	URL    string
	Data   []byte
	Size   LabelSize
	Cached bool
}

// Inline reports whether the label carries bytes rather than a URL.
func (l *Label) Inline() bool {
	return l.URL == "" && len(l.Data) > 0
}

// RawPayload returns body as an opaque JSON document for audit storage.
// Bodies that are not JSON (HTML, PDF, plain text) are wrapped as a
// truncated string.
func RawPayload(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": Truncate(body)})
	return wrapped
}
