package webhook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/webhook"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		awb       string
		rawStatus string
		status    shipper.ShipmentStatus
	}{
		{
			name:      "nested envelope",
			body:      `{"Shipment":{"AWB":"A1","Status":{"Status":"In Transit","StatusDateTime":"2026-10-18T10:00:00"}}}`,
			awb:       "A1",
			rawStatus: "In Transit",
			status:    shipper.StatusInTransit,
		},
		{
			name:      "nested numeric waybill",
			body:      `{"Shipment":{"AWB":1234567890,"Status":{"Status":"Delivered"}}}`,
			awb:       "1234567890",
			rawStatus: "Delivered",
			status:    shipper.StatusDelivered,
		},
		{
			name:      "flat awb and status",
			body:      `{"awb":"A2","status":"Out for Delivery"}`,
			awb:       "A2",
			rawStatus: "Out for Delivery",
			status:    shipper.StatusOutForDelivery,
		},
		{
			name:      "flat waybill and current status",
			body:      `{"waybill":"A3","current_status":"RTO Initiated"}`,
			awb:       "A3",
			rawStatus: "RTO Initiated",
			status:    shipper.StatusRTO,
		},
		{
			name:      "unrecognized vocabulary",
			body:      `{"awb":"A4","status":"Pending at hub"}`,
			awb:       "A4",
			rawStatus: "Pending at hub",
			status:    shipper.StatusUpdated,
		},
		{
			name:   "missing status",
			body:   `{"awb":"A5"}`,
			awb:    "A5",
			status: shipper.StatusUpdated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := webhook.Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.awb, event.AWB)
			assert.Equal(t, tt.rawStatus, event.RawStatus)
			assert.Equal(t, tt.status, event.Status)
			assert.JSONEq(t, tt.body, string(event.Raw))
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, body := range []string{
		``,
		`not json`,
		`[1,2]`,
		`{"awb":`,
		`{"status":"Delivered"}`,
		`{"Shipment":{"Status":{"Status":"Delivered"}}}`,
	} {
		_, err := webhook.Decode([]byte(body))
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "body %q", body)
	}
}
