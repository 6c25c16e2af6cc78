// Package mock provides an in-memory carrier for testing.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Client is an in-memory shipper.Carrier. By default every call succeeds;
// the exported fields script other outcomes.
type Client struct {
	name string
	seq  atomic.Int64

	// CreateErr, CancelErr, PickupErr and LabelErr are returned instead of
	// calling the carrier when set.
	CreateErr error
	CancelErr error
	PickupErr error
	LabelErr  error

	// RejectCancel and RejectPickup make the acknowledgment not accepted.
	RejectCancel bool
	RejectPickup bool

	// Label is returned by FetchLabel when set.
	Label *shipper.Label

	mu      sync.Mutex
	calls   []string
	cancels []string
	pickups []shipper.PickupRequest
}

// New creates a new mock carrier.
func New(name string) *Client {
	return &Client{name: name}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// CreateShipment assigns a sequential waybill.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.CreateShipmentRequest) (*shipper.CreateShipmentResponse, error) {
	c.track("create")
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	awb := fmt.Sprintf("%s-AWB-%04d", c.name, c.seq.Add(1))
	return &shipper.CreateShipmentResponse{
		AWB: awb,
		Raw: raw(map[string]any{"waybill": awb, "order": req.OrderID}),
	}, nil
}

// CancelShipment acknowledges the cancellation unless RejectCancel is set.
func (c *Client) CancelShipment(ctx context.Context, awb string) (*shipper.Ack, error) {
	c.track("cancel")
	if c.CancelErr != nil {
		return nil, c.CancelErr
	}
	c.mu.Lock()
	c.cancels = append(c.cancels, awb)
	c.mu.Unlock()
	return &shipper.Ack{
		Accepted: !c.RejectCancel,
		Raw:      raw(map[string]any{"waybill": awb, "status": !c.RejectCancel}),
	}, nil
}

// RequestPickup acknowledges the pickup unless RejectPickup is set.
func (c *Client) RequestPickup(ctx context.Context, req *shipper.PickupRequest) (*shipper.Ack, error) {
	c.track("pickup")
	if c.PickupErr != nil {
		return nil, c.PickupErr
	}
	c.mu.Lock()
	c.pickups = append(c.pickups, *req)
	c.mu.Unlock()
	return &shipper.Ack{
		Accepted: !c.RejectPickup,
		Raw:      raw(map[string]any{"pickup_location": req.Location, "accepted": !c.RejectPickup}),
	}, nil
}

// FetchLabel returns Label, or a hosted URL derived from the waybill. A
// cached URL is always reported as still reachable.
func (c *Client) FetchLabel(ctx context.Context, req *shipper.LabelRequest) (*shipper.Label, error) {
	c.track("label")
	if c.LabelErr != nil {
		return nil, c.LabelErr
	}
	if req.CachedURL != "" {
		return &shipper.Label{URL: req.CachedURL, Cached: true}, nil
	}
	if c.Label != nil {
		label := *c.Label
		return &label, nil
	}
	size := req.PreferredSize
	if size == "" {
		size = shipper.LabelSize4R
	}
	return &shipper.Label{
		URL:  fmt.Sprintf("https://labels.example.com/%s-%s.pdf", req.AWB, size),
		Size: size,
	}, nil
}

// Calls returns the operations invoked so far, in order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Cancels returns the waybills passed to CancelShipment.
func (c *Client) Cancels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cancels...)
}

// Pickups returns the pickup requests received.
func (c *Client) Pickups() []shipper.PickupRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]shipper.PickupRequest(nil), c.pickups...)
}

func (c *Client) track(op string) {
	c.mu.Lock()
	c.calls = append(c.calls, op)
	c.mu.Unlock()
}

func raw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Ensure Client implements shipper.Carrier interface
var _ shipper.Carrier = (*Client)(nil)
