package delhivery

import (
	"context"
	"encoding/json"
	"strings"
)

// APIClient defines the raw Delhivery API operations. It reports transport
// failures as errors and hands every HTTP response back untouched: deciding
// whether a response means success is the adapter's job, not the
// transport's.
type APIClient interface {
	// CreateShipment books shipments: POST /api/cmu/create.json
	CreateShipment(ctx context.Context, req *CreatePayload) (*RawResponse, error)

	// EditShipment edits or cancels a waybill: POST /api/p/edit
	EditShipment(ctx context.Context, req *EditRequest) (*RawResponse, error)

	// CreatePickup requests a pickup: POST /fm/request/new/
	// The body is one of the pickup payload schemas.
	CreatePickup(ctx context.Context, body any) (*RawResponse, error)

	// PackingSlip fetches the label for a waybill in a paper size:
	// GET /api/p/packing_slip?wbns=...&pdf=true&pdf_size=...
	PackingSlip(ctx context.Context, awb, size string) (*RawResponse, error)

	// Probe checks that a previously returned label URL still resolves.
	Probe(ctx context.Context, url string) (bool, error)
}

// RawResponse is an HTTP response reduced to what the adapter inspects.
type RawResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *RawResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ============================================================================
// API Request Types
// ============================================================================

// CreatePayload is sent form-encoded as format=json&data=<json>.
type CreatePayload struct {
	Shipments      []ShipmentData `json:"shipments"`
	PickupLocation PickupLocation `json:"pickup_location"`
}

// ShipmentData is a single consignment in a create request.
type ShipmentData struct {
	Name         string `json:"name"`
	Address      string `json:"add"`
	Pin          string `json:"pin"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Country      string `json:"country,omitempty"`
	Phone        string `json:"phone"`
	Order        string `json:"order"`
	PaymentMode  string `json:"payment_mode"`
	CODAmount    string `json:"cod_amount,omitempty"`
	TotalAmount  string `json:"total_amount,omitempty"`
	ProductsDesc string `json:"products_desc,omitempty"`
	Weight       string `json:"weight,omitempty"` // grams
	Length       string `json:"shipment_length,omitempty"`
	Width        string `json:"shipment_width,omitempty"`
	Height       string `json:"shipment_height,omitempty"`
}

// PickupLocation names the registered warehouse.
type PickupLocation struct {
	Name string `json:"name"`
}

// EditRequest cancels a waybill when Cancellation is "true".
type EditRequest struct {
	Waybill      string `json:"waybill"`
	Cancellation string `json:"cancellation"`
}

// PickupPayload is the documented pickup request schema.
type PickupPayload struct {
	PickupLocation       string `json:"pickup_location"`
	PickupDate           string `json:"pickup_date"` // YYYY-MM-DD
	PickupTime           string `json:"pickup_time"` // HH:MM:SS
	ExpectedPackageCount int    `json:"expected_package_count"`
}

// PickupPayloadAlt is the alternate field naming some accounts are served
// with. It is tried once when the primary schema is not acknowledged.
type PickupPayloadAlt struct {
	WarehouseName string `json:"warehouse_name"`
	PickupDate    string `json:"pickup_date"`
	PickupSlot    string `json:"pickup_slot"`
	PackageCount  int    `json:"package_count"`
}

// ============================================================================
// API Response Types
// ============================================================================

// CreateResponse is the create endpoint's response body.
type CreateResponse struct {
	Success  flag            `json:"success"`
	Packages []PackageResult `json:"packages"`
	Waybill  string          `json:"waybill"`
	AWB      string          `json:"awb"`
	RMK      string          `json:"rmk"`
	Error    json.RawMessage `json:"error"`
}

// PackageResult is the per-consignment outcome of a create call.
type PackageResult struct {
	Waybill string          `json:"waybill"`
	Status  string          `json:"status"`
	RefNum  string          `json:"refnum"`
	Remarks json.RawMessage `json:"remarks"` // string or []string
}

// ackEnvelope holds the explicit success signals an acknowledgment may carry.
type ackEnvelope struct {
	Status   flag            `json:"status"`
	Success  flag            `json:"success"`
	PickupID json.RawMessage `json:"pickup_id"`
}

// packingSlipResponse is the structured label response.
type packingSlipResponse struct {
	PackagesFound int `json:"packages_found"`
	Packages      []struct {
		PDFDownloadLink string `json:"pdf_download_link"`
		PDFEncoding     string `json:"pdf_encoding"`
	} `json:"packages"`
}

// directLinkResponse covers responses that put the link at the top level.
type directLinkResponse struct {
	PDFDownloadLink string `json:"pdf_download_link"`
	PDFURL          string `json:"pdf_url"`
	LabelURL        string `json:"label_url"`
	URL             string `json:"url"`
}

// flag decodes a success indicator sent as a JSON bool or as a word.
// Set is false when the field is absent or carries an unrecognized value.
type flag struct {
	Set   bool
	Value bool
}

func (f *flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.Set, f.Value = true, b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "success", "succeeded", "ok", "accepted":
		f.Set, f.Value = true, true
	case "false", "fail", "failed", "failure", "error", "rejected":
		f.Set, f.Value = true, false
	}
	return nil
}

// remarks flattens the remarks field, which may be a string or a list.
func (p PackageResult) remarks() string {
	if len(p.Remarks) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(p.Remarks, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var s string
	if err := json.Unmarshal(p.Remarks, &s); err == nil {
		return s
	}
	return string(p.Remarks)
}
