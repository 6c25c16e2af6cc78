package webhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/shipment"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Processing results, also used as the metric label.
const (
	ResultApplied          = "applied"
	ResultRefreshed        = "refreshed"
	ResultStale            = "stale"
	ResultUnknownShipment  = "unknown_shipment"
	ResultInvalidSignature = "invalid_signature"
	ResultMalformed        = "malformed"
	ResultError            = "error"
)

// Applier applies a normalized inbound status to a stored shipment.
type Applier interface {
	ApplyInbound(ctx context.Context, awb string, status shipper.ShipmentStatus, raw json.RawMessage) (*shipment.Outcome, error)
}

// Processor runs one callback through verification, decoding and apply. It
// never calls the carrier.
type Processor struct {
	verifier *Verifier
	applier  Applier
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
}

// NewProcessor creates a webhook processor.
func NewProcessor(verifier *Verifier, applier Applier, logger *otelzap.Logger, metrics *telemetry.Metrics) *Processor {
	return &Processor{
		verifier: verifier,
		applier:  applier,
		logger:   logger,
		metrics:  metrics,
	}
}

// Process handles a raw callback body and its signature header. Stale,
// duplicate and unknown-waybill events are successful results. Errors wrap
// domain.ErrSignatureInvalid, domain.ErrInvalidInput or a storage failure.
func (p *Processor) Process(ctx context.Context, body []byte, signature string) (string, error) {
	result, err := p.process(ctx, body, signature)
	p.metrics.RecordWebhookEvent(result)
	return result, err
}

func (p *Processor) process(ctx context.Context, body []byte, signature string) (string, error) {
	if !p.verifier.Verify(body, signature) {
		p.logger.Ctx(ctx).Warn("Rejected webhook with invalid signature",
			zap.Int("body_bytes", len(body)),
			zap.Bool("signature_present", signature != ""),
		)
		return ResultInvalidSignature, domain.ErrSignatureInvalid
	}

	event, err := Decode(body)
	if err != nil {
		p.logger.Ctx(ctx).Warn("Rejected malformed webhook", zap.Error(err))
		return ResultMalformed, err
	}

	outcome, err := p.applier.ApplyInbound(ctx, event.AWB, event.Status, event.Raw)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Ctx(ctx).Info("Acknowledged webhook for unknown shipment",
			zap.String("awb", event.AWB),
			zap.String("carrier_status", event.RawStatus),
		)
		return ResultUnknownShipment, nil
	}
	if err != nil {
		p.logger.Ctx(ctx).Error("Failed to apply webhook",
			zap.String("awb", event.AWB),
			zap.Error(err),
		)
		return ResultError, err
	}

	result := outcome.Decision.String()
	p.logger.Ctx(ctx).Debug("Processed webhook",
		zap.String("awb", event.AWB),
		zap.String("carrier_status", event.RawStatus),
		zap.String("status", string(event.Status)),
		zap.String("result", result),
	)
	return result, nil
}
