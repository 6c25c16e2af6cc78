package shipper_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want shipper.ShipmentStatus
	}{
		{"Cancelled", shipper.StatusCancelled},
		{"Shipment cancellation requested", shipper.StatusCancelled},
		{"RTO Initiated", shipper.StatusRTO},
		{"Delivered", shipper.StatusDelivered},
		{"In Transit", shipper.StatusInTransit},
		{"in transit - picked up", shipper.StatusInTransit},
		{"IN_TRANSIT", shipper.StatusInTransit},
		{"Picked Up", shipper.StatusInTransit},
		{"Out for Delivery", shipper.StatusOutForDelivery},
		{"Manifested", shipper.StatusUpdated},
		{"", shipper.StatusUpdated},
		// first match wins
		{"RTO cancelled", shipper.StatusCancelled},
		{"RTO Delivered", shipper.StatusRTO},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, shipper.Normalize(tt.raw))
		})
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		current  shipper.ShipmentStatus
		incoming shipper.ShipmentStatus
		want     shipper.Decision
	}{
		{"forward", shipper.StatusCreated, shipper.StatusInTransit, shipper.Advance},
		{"skip ahead", shipper.StatusPickupScheduled, shipper.StatusDelivered, shipper.Advance},
		{"duplicate", shipper.StatusInTransit, shipper.StatusInTransit, shipper.Refresh},
		{"stale", shipper.StatusOutForDelivery, shipper.StatusInTransit, shipper.Discard},
		{"cancel before transit", shipper.StatusPickupScheduled, shipper.StatusCancelled, shipper.Advance},
		{"rto from transit", shipper.StatusOutForDelivery, shipper.StatusRTO, shipper.Advance},
		{"delivered sticky vs cancel", shipper.StatusDelivered, shipper.StatusCancelled, shipper.Discard},
		{"delivered sticky vs rto", shipper.StatusDelivered, shipper.StatusRTO, shipper.Discard},
		{"cancelled not resurrected", shipper.StatusCancelled, shipper.StatusInTransit, shipper.Discard},
		{"first terminal wins", shipper.StatusCancelled, shipper.StatusRTO, shipper.Discard},
		{"rto not superseded by delivered", shipper.StatusRTO, shipper.StatusDelivered, shipper.Discard},
		{"unknown vocabulary", shipper.StatusInTransit, shipper.StatusUpdated, shipper.Refresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shipper.Decide(tt.current, tt.incoming))
		})
	}
}

func TestRank(t *testing.T) {
	r, ok := shipper.Rank(shipper.StatusDelivered)
	assert.True(t, ok)
	assert.Equal(t, 4, r)

	_, ok = shipper.Rank(shipper.StatusCancelled)
	assert.False(t, ok)

	assert.True(t, shipper.StatusRTO.Valid())
	assert.False(t, shipper.StatusUpdated.Valid())
}
