package domain

import (
	"encoding/json"
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Shipment is identified by the carrier-assigned waybill. Shipments are never
// deleted; terminal states are kept for audit.
type Shipment struct {
	AWB               string                 `json:"awb"`
	OrderID           string                 `json:"order_id"`
	SellerID          string                 `json:"seller_id"`
	Status            shipper.ShipmentStatus `json:"status"`
	LabelURL          string                 `json:"label_url,omitempty"`
	PickupDate        *time.Time             `json:"pickup_date,omitempty"`
	PickupSlot        string                 `json:"pickup_slot,omitempty"`
	PickupRequestedAt *time.Time             `json:"pickup_requested_at,omitempty"`
	Metadata          json.RawMessage        `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Active reports whether the shipment still occupies its order. A cancelled
// or returned shipment may be replaced by a new waybill.
func (s *Shipment) Active() bool {
	return !shipper.IsTerminalBranch(s.Status)
}
