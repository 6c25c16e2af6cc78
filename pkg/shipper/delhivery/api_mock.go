package delhivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing and for
// running the service without carrier credentials.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateShipment func(ctx context.Context, req *CreatePayload) (*RawResponse, error)
	OnEditShipment   func(ctx context.Context, req *EditRequest) (*RawResponse, error)
	OnCreatePickup   func(ctx context.Context, body any) (*RawResponse, error)
	OnPackingSlip    func(ctx context.Context, awb, size string) (*RawResponse, error)
	OnProbe          func(ctx context.Context, url string) (bool, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return fmt.Errorf("simulated transport error")
	}
	return nil
}

// CreateShipment returns a successful booking with a generated waybill.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *CreatePayload) (*RawResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	order := ""
	if len(req.Shipments) > 0 {
		order = req.Shipments[0].Order
	}
	waybill := fmt.Sprintf("DL%d", uuid.New().ID())

	return jsonResponse(http.StatusOK, fmt.Sprintf(
		`{"success":true,"packages":[{"waybill":%q,"status":"Success","refnum":%q,"remarks":[]}]}`,
		waybill, order)), nil
}

// EditShipment acknowledges the edit.
func (m *MockAPIClient) EditShipment(ctx context.Context, req *EditRequest) (*RawResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnEditShipment != nil {
		return m.OnEditShipment(ctx, req)
	}
	return jsonResponse(http.StatusOK, fmt.Sprintf(
		`{"status":true,"waybill":%q,"remark":"Shipment has been cancelled."}`, req.Waybill)), nil
}

// CreatePickup acknowledges the pickup with a generated pickup id.
func (m *MockAPIClient) CreatePickup(ctx context.Context, body any) (*RawResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreatePickup != nil {
		return m.OnCreatePickup(ctx, body)
	}
	return jsonResponse(http.StatusOK, fmt.Sprintf(`{"pickup_id":%d}`, uuid.New().ID()%1000000)), nil
}

// PackingSlip returns a hosted label link for the waybill.
func (m *MockAPIClient) PackingSlip(ctx context.Context, awb, size string) (*RawResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnPackingSlip != nil {
		return m.OnPackingSlip(ctx, awb, size)
	}
	return jsonResponse(http.StatusOK, fmt.Sprintf(
		`{"packages_found":1,"packages":[{"pdf_download_link":"https://labels.example.com/%s-%s.pdf"}]}`,
		awb, size)), nil
}

// Probe reports every URL as reachable.
func (m *MockAPIClient) Probe(ctx context.Context, url string) (bool, error) {
	if err := m.simulate(); err != nil {
		return false, err
	}
	if m.OnProbe != nil {
		return m.OnProbe(ctx, url)
	}
	return true, nil
}

func jsonResponse(status int, body string) *RawResponse {
	return &RawResponse{StatusCode: status, ContentType: "application/json", Body: []byte(body)}
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
