// Package delhivery provides integration with the Delhivery logistics API.
package delhivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const carrierName = "delhivery"

// Operation names used for spans and call metrics.
const (
	opCreate = "create_shipment"
	opCancel = "cancel_shipment"
	opPickup = "request_pickup"
	opLabel  = "fetch_label"
)

// labelFallbackSizes are tried, in order, after the preferred size.
var labelFallbackSizes = []shipper.LabelSize{shipper.LabelSizeA4, shipper.LabelSize4R}

// ackTokens mark a success acknowledgment when a response carries no
// explicit flag.
var ackTokens = []string{"success", "cancelled", "updated", "accepted"}

// Config holds Delhivery configuration.
type Config struct {
	BaseURL          string
	APIToken         string
	Timeout          time.Duration
	UseMock          bool // When true, uses mock API client
	DefaultLabelSize shipper.LabelSize
	Paths            Paths
}

// Client is the Delhivery carrier client.
// It implements the shipper.Carrier interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	recorder  shipper.CallRecorder
}

// New creates a new Delhivery client.
// If cfg.UseMock is true, it uses a mock API client.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer, recorder shipper.CallRecorder) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.APIToken,
			Timeout: cfg.Timeout,
			Paths:   cfg.Paths,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer, recorder)
}

// NewWithAPIClient creates a new Delhivery client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer, recorder shipper.CallRecorder) *Client {
	if tracer == nil {
		tracer = otel.Tracer("github.com/tournevent/fulfillment/pkg/shipper/delhivery")
	}
	if cfg.DefaultLabelSize == "" {
		cfg.DefaultLabelSize = shipper.LabelSize4R
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
		recorder:  recorder,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// CreateShipment books a shipment and returns the waybill.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.CreateShipmentRequest) (*shipper.CreateShipmentResponse, error) {
	ctx, span := c.tracer.Start(ctx, "delhivery.CreateShipment",
		trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer span.End()
	start := time.Now()

	c.logger.Ctx(ctx).Info("Creating Delhivery shipment",
		zap.String("order_id", req.OrderID),
		zap.String("pickup_location", req.PickupLocation),
	)

	resp, err := c.apiClient.CreateShipment(ctx, createPayload(req))
	if err := c.classify(opCreate, resp, err); err != nil {
		return nil, c.fail(ctx, span, opCreate, start, err)
	}

	awb, reason := decodeWaybill(resp.Body)
	if awb == "" {
		err := shipper.NewShipperError(carrierName, shipper.CodeRejected, "no waybill in response: "+reason).
			WithStatusCode(resp.StatusCode).
			WithSnippet(resp.Body)
		return nil, c.fail(ctx, span, opCreate, start, err)
	}

	span.SetAttributes(attribute.String("shipment.awb", awb))
	c.record(opCreate, "accepted", start)

	return &shipper.CreateShipmentResponse{
		AWB: awb,
		Raw: shipper.RawPayload(resp.Body),
	}, nil
}

// CancelShipment asks the carrier to cancel a waybill. The acknowledgment is
// reported as-is; an unrecognized response is not accepted.
func (c *Client) CancelShipment(ctx context.Context, awb string) (*shipper.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "delhivery.CancelShipment",
		trace.WithAttributes(attribute.String("shipment.awb", awb)))
	defer span.End()
	start := time.Now()

	c.logger.Ctx(ctx).Info("Cancelling Delhivery shipment", zap.String("awb", awb))

	resp, err := c.apiClient.EditShipment(ctx, &EditRequest{Waybill: awb, Cancellation: "true"})
	if err := c.classify(opCancel, resp, err); err != nil {
		return nil, c.fail(ctx, span, opCancel, start, err)
	}

	ack := &shipper.Ack{Accepted: looksAccepted(resp.Body), Raw: shipper.RawPayload(resp.Body)}
	c.recordAck(opCancel, ack, start)
	return ack, nil
}

// RequestPickup schedules a pickup. When the documented schema is not
// acknowledged the request is retried once with the alternate schema.
// Transport failures are not retried.
func (c *Client) RequestPickup(ctx context.Context, req *shipper.PickupRequest) (*shipper.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "delhivery.RequestPickup",
		trace.WithAttributes(attribute.String("pickup.location", req.Location)))
	defer span.End()
	start := time.Now()

	date := req.Date.Format("2006-01-02")
	count := req.PackageCount
	if count <= 0 {
		count = 1
	}

	c.logger.Ctx(ctx).Info("Requesting Delhivery pickup",
		zap.String("location", req.Location),
		zap.String("date", date),
		zap.String("slot", req.SlotTime),
	)

	resp, err := c.apiClient.CreatePickup(ctx, &PickupPayload{
		PickupLocation:       req.Location,
		PickupDate:           date,
		PickupTime:           req.SlotTime,
		ExpectedPackageCount: count,
	})
	if err != nil || resp.StatusCode == 429 || resp.StatusCode >= 500 {
		return nil, c.fail(ctx, span, opPickup, start, c.classify(opPickup, resp, err))
	}
	if resp.OK() && looksAccepted(resp.Body) {
		ack := &shipper.Ack{Accepted: true, Raw: shipper.RawPayload(resp.Body)}
		c.recordAck(opPickup, ack, start)
		return ack, nil
	}

	c.logger.Ctx(ctx).Warn("Pickup not acknowledged, retrying with alternate schema",
		zap.Int("status_code", resp.StatusCode),
		zap.String("response", shipper.Truncate(resp.Body)),
	)
	span.AddEvent("pickup.alternate_schema")

	resp, err = c.apiClient.CreatePickup(ctx, &PickupPayloadAlt{
		WarehouseName: req.Location,
		PickupDate:    date,
		PickupSlot:    req.SlotTime,
		PackageCount:  count,
	})
	if err := c.classify(opPickup, resp, err); err != nil {
		return nil, c.fail(ctx, span, opPickup, start, err)
	}

	ack := &shipper.Ack{Accepted: looksAccepted(resp.Body), Raw: shipper.RawPayload(resp.Body)}
	c.recordAck(opPickup, ack, start)
	return ack, nil
}

// FetchLabel returns the label for a waybill. A cached URL that still
// resolves is returned without regenerating; otherwise the preferred size
// and then the fallback sizes are requested until one decodes.
func (c *Client) FetchLabel(ctx context.Context, req *shipper.LabelRequest) (*shipper.Label, error) {
	ctx, span := c.tracer.Start(ctx, "delhivery.FetchLabel",
		trace.WithAttributes(attribute.String("shipment.awb", req.AWB)))
	defer span.End()
	start := time.Now()

	if req.CachedURL != "" {
		ok, err := c.apiClient.Probe(ctx, req.CachedURL)
		if err == nil && ok {
			c.record(opLabel, "accepted", start)
			return &shipper.Label{URL: req.CachedURL, Cached: true}, nil
		}
		c.logger.Ctx(ctx).Info("Cached label no longer reachable, regenerating",
			zap.String("awb", req.AWB),
			zap.Error(err),
		)
	}

	preferred := req.PreferredSize
	if preferred == "" {
		preferred = c.config.DefaultLabelSize
	}

	var transportErr error
	for _, size := range labelSizes(preferred) {
		resp, err := c.apiClient.PackingSlip(ctx, req.AWB, string(size))
		if err := c.classify(opLabel, resp, err); err != nil {
			if shipper.IsRetryable(err) {
				transportErr = err
			}
			c.logger.Ctx(ctx).Warn("Label request failed",
				zap.String("awb", req.AWB),
				zap.String("size", string(size)),
				zap.Error(err),
			)
			continue
		}

		if label, ok := decodeLabel(resp); ok {
			label.Size = size
			span.SetAttributes(attribute.String("label.size", string(size)))
			c.record(opLabel, "accepted", start)
			return label, nil
		}
		c.logger.Ctx(ctx).Debug("Label response not decodable",
			zap.String("size", string(size)),
			zap.String("response", shipper.Truncate(resp.Body)),
		)
	}

	if transportErr != nil {
		return nil, c.fail(ctx, span, opLabel, start, transportErr)
	}
	err := shipper.NewShipperError(carrierName, shipper.CodeLabelUnavailable,
		fmt.Sprintf("no label for %s in any size", req.AWB))
	return nil, c.fail(ctx, span, opLabel, start, err)
}

// classify turns a transport error or a non-2xx response into a
// *shipper.ShipperError. Timeouts, 429 and 5xx are retryable.
func (c *Client) classify(op string, resp *RawResponse, err error) error {
	if err != nil {
		return shipper.NewShipperError(carrierName, shipper.CodeUnavailable, op+" request failed").
			WithCause(err).
			WithRetryable(true)
	}
	switch {
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return shipper.NewShipperError(carrierName, shipper.CodeUnavailable, op+" unavailable").
			WithStatusCode(resp.StatusCode).
			WithSnippet(resp.Body).
			WithRetryable(true)
	case !resp.OK():
		return shipper.NewShipperError(carrierName, shipper.CodeRejected, op+" rejected").
			WithStatusCode(resp.StatusCode).
			WithSnippet(resp.Body)
	}
	return nil
}

func (c *Client) fail(ctx context.Context, span trace.Span, op string, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	c.logger.Ctx(ctx).Error("Delhivery API error",
		zap.String("operation", op),
		zap.Error(err),
	)

	c.record(op, outcome(err), start)
	return err
}

func (c *Client) recordAck(op string, ack *shipper.Ack, start time.Time) {
	if ack.Accepted {
		c.record(op, "accepted", start)
		return
	}
	c.record(op, "not_accepted", start)
}

func (c *Client) record(op, result string, start time.Time) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordProviderCall(op, result, time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case shipper.IsRetryable(err):
		return "unavailable"
	case errors.Is(err, shipper.ErrLabelUnavailable):
		return "label_unavailable"
	default:
		return "rejected"
	}
}

// ============================================================================
// Response Decoding
// ============================================================================

// decodeWaybill reads the waybill from a create response, preferring the
// first package entry. When none is found the second value explains why.
func decodeWaybill(body []byte) (string, string) {
	var resp CreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "response is not JSON"
	}

	if len(resp.Packages) > 0 {
		pkg := resp.Packages[0]
		if strings.EqualFold(pkg.Status, "fail") || strings.EqualFold(pkg.Status, "failure") {
			return "", pkg.remarks()
		}
		if pkg.Waybill != "" {
			return pkg.Waybill, ""
		}
	}
	if resp.Waybill != "" {
		return resp.Waybill, ""
	}
	if resp.AWB != "" {
		return resp.AWB, ""
	}
	if resp.RMK != "" {
		return "", resp.RMK
	}
	return "", "waybill missing"
}

// looksAccepted classifies an acknowledgment body. An explicit status or
// success flag decides alone; a pickup id counts as success; otherwise the
// body is scanned for success vocabulary.
func looksAccepted(body []byte) bool {
	var env ackEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Status.Set {
			return env.Status.Value
		}
		if env.Success.Set {
			return env.Success.Value
		}
		if id := strings.Trim(string(env.PickupID), `" `); id != "" && id != "null" {
			return true
		}
	}

	lower := strings.ToLower(string(body))
	for _, token := range ackTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// labelSizes returns preferred followed by the fallback sizes, without
// repeats.
func labelSizes(preferred shipper.LabelSize) []shipper.LabelSize {
	sizes := []shipper.LabelSize{preferred}
	for _, s := range labelFallbackSizes {
		if s != preferred {
			sizes = append(sizes, s)
		}
	}
	return sizes
}

// ============================================================================
// Conversion Helpers
// ============================================================================

func createPayload(req *shipper.CreateShipmentRequest) *CreatePayload {
	addr := req.Consignee
	line := addr.Line1
	if addr.Line2 != "" {
		line += ", " + addr.Line2
	}

	mode := req.PaymentMode
	if mode == "" {
		mode = "Prepaid"
	}

	data := ShipmentData{
		Name:         addr.Name,
		Address:      line,
		Pin:          addr.PostalCode,
		City:         addr.City,
		State:        addr.State,
		Country:      addr.Country,
		Phone:        addr.Phone,
		Order:        req.OrderID,
		PaymentMode:  mode,
		ProductsDesc: req.Package.Description,
	}
	if req.CODAmountMinor > 0 {
		data.CODAmount = minorToMajor(req.CODAmountMinor)
	}
	if req.DeclaredMinor > 0 {
		data.TotalAmount = minorToMajor(req.DeclaredMinor)
	}
	if req.Package.WeightGrams > 0 {
		data.Weight = strconv.Itoa(req.Package.WeightGrams)
	}
	if req.Package.LengthCM > 0 {
		data.Length = formatCM(req.Package.LengthCM)
		data.Width = formatCM(req.Package.WidthCM)
		data.Height = formatCM(req.Package.HeightCM)
	}

	return &CreatePayload{
		Shipments:      []ShipmentData{data},
		PickupLocation: PickupLocation{Name: req.PickupLocation},
	}
}

func minorToMajor(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func formatCM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Ensure Client implements shipper.Carrier interface
var _ shipper.Carrier = (*Client)(nil)
