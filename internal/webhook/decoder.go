package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Event is a decoded carrier status callback.
type Event struct {
	AWB        string
	RawStatus  string
	Status     shipper.ShipmentStatus
	StatusTime string
	Raw        json.RawMessage
}

// nestedEnvelope is the carrier's push format.
type nestedEnvelope struct {
	Shipment *struct {
		AWB    json.RawMessage `json:"AWB"`
		Status json.RawMessage `json:"Status"`
	} `json:"Shipment"`
}

// flatEnvelope is the simplified format some carrier integrations send.
type flatEnvelope struct {
	AWB           json.RawMessage `json:"awb"`
	Waybill       json.RawMessage `json:"waybill"`
	Status        json.RawMessage `json:"status"`
	CurrentStatus json.RawMessage `json:"current_status"`
}

type statusObject struct {
	Status         string `json:"Status"`
	StatusDateTime string `json:"StatusDateTime"`
}

// Decode parses a callback body. The nested envelope is tried first, then
// the flat one. The error wraps domain.ErrInvalidInput when the body is not
// a JSON object or carries no waybill.
func Decode(body []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", domain.ErrInvalidInput)
	}

	var nested nestedEnvelope
	if err := json.Unmarshal(trimmed, &nested); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	event := &Event{Raw: json.RawMessage(append([]byte(nil), trimmed...))}
	if nested.Shipment != nil {
		event.AWB = scalar(nested.Shipment.AWB)
		event.RawStatus, event.StatusTime = status(nested.Shipment.Status)
	}

	if event.AWB == "" {
		var flat flatEnvelope
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		event.AWB = firstNonEmpty(scalar(flat.AWB), scalar(flat.Waybill))
		event.RawStatus, event.StatusTime = status(flat.Status)
		if event.RawStatus == "" {
			event.RawStatus, _ = status(flat.CurrentStatus)
		}
	}

	if event.AWB == "" {
		return nil, fmt.Errorf("%w: missing waybill", domain.ErrInvalidInput)
	}
	event.Status = shipper.Normalize(event.RawStatus)
	return event, nil
}

// status reads either a bare status string or a {"Status","StatusDateTime"}
// object.
func status(raw json.RawMessage) (text, at string) {
	if s := scalar(raw); s != "" {
		return s, ""
	}
	var obj statusObject
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Status), obj.StatusDateTime
	}
	return "", ""
}

// scalar returns a JSON string or number as text.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
