package domain

import (
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Transition sources.
const (
	SourceWebhook  = "webhook"
	SourceOutbound = "outbound"
	SourceCancel   = "cancel"
)

// ShipmentStatusChangedEvent is published after a shipment status transition
// has been stored.
type ShipmentStatusChangedEvent struct {
	AWB       string                 `json:"awb"`
	OrderID   string                 `json:"order_id"`
	SellerID  string                 `json:"seller_id"`
	From      shipper.ShipmentStatus `json:"from"`
	To        shipper.ShipmentStatus `json:"to"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
}
