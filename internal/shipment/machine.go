// Package shipment implements the shipment state machine. Every transition
// is evaluated against the currently stored status and written with a
// compare-and-set on the waybill, so webhooks and seller actions may race
// freely on the same shipment.
package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/store"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// maxCASAttempts bounds re-reads after losing a compare-and-set.
const maxCASAttempts = 5

// Publisher receives stored status changes. Failures are logged only.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, event domain.ShipmentStatusChangedEvent) error
}

// Outcome is the result of applying an event to a shipment.
type Outcome struct {
	Shipment *domain.Shipment
	Previous shipper.ShipmentStatus
	Decision shipper.Decision
}

// Machine applies status events and seller actions to shipments.
type Machine struct {
	store     store.Store
	carrier   shipper.Carrier
	publisher Publisher
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// NewMachine creates a state machine. publisher may be nil.
func NewMachine(st store.Store, carrier shipper.Carrier, publisher Publisher, logger *otelzap.Logger, metrics *telemetry.Metrics) *Machine {
	return &Machine{
		store:     st,
		carrier:   carrier,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ApplyInbound applies a normalized carrier status. Stale and duplicate
// events are not errors: the returned Outcome reports them as discarded or
// refreshed.
func (m *Machine) ApplyInbound(ctx context.Context, awb string, incoming shipper.ShipmentStatus, raw json.RawMessage) (*Outcome, error) {
	return m.apply(ctx, awb, domain.SourceWebhook, func(current *domain.Shipment) (shipper.Decision, store.ShipmentUpdate) {
		decision := shipper.Decide(current.Status, incoming)
		next := current.Status
		if decision == shipper.Advance {
			next = incoming
		}
		return decision, store.ShipmentUpdate{Status: next, Metadata: raw}
	})
}

// OutboundResult is the local effect of a seller action the carrier
// accepted.
type OutboundResult struct {
	Status     shipper.ShipmentStatus
	Raw        json.RawMessage
	PickupDate *time.Time
	PickupSlot string
}

// ApplyOutbound records the result of a seller action. Status only moves
// forward along the main sequence; if a webhook already carried the
// shipment further, the status is kept and only the payload and pickup
// details are refreshed.
func (m *Machine) ApplyOutbound(ctx context.Context, awb string, result OutboundResult) (*Outcome, error) {
	var requestedAt *time.Time
	if result.PickupDate != nil {
		now := m.now()
		requestedAt = &now
	}

	return m.apply(ctx, awb, domain.SourceOutbound, func(current *domain.Shipment) (shipper.Decision, store.ShipmentUpdate) {
		update := store.ShipmentUpdate{
			Status:            current.Status,
			Metadata:          result.Raw,
			PickupDate:        result.PickupDate,
			PickupSlot:        result.PickupSlot,
			PickupRequestedAt: requestedAt,
		}
		if shipper.IsFinal(current.Status) {
			return shipper.Refresh, update
		}
		cur, _ := shipper.Rank(current.Status)
		next, onMain := shipper.Rank(result.Status)
		if onMain && next > cur {
			update.Status = result.Status
			return shipper.Advance, update
		}
		return shipper.Refresh, update
	})
}

// Cancel cancels a shipment on behalf of its seller. The carrier is asked
// first; the local status changes only when the carrier clearly accepted.
func (m *Machine) Cancel(ctx context.Context, awb, sellerID string) (*domain.Shipment, error) {
	s, err := m.owned(ctx, awb, sellerID)
	if err != nil {
		return nil, err
	}
	if !Cancellable(s.Status) {
		return nil, fmt.Errorf("shipment %s is %s: %w", awb, s.Status, domain.ErrNotCancellable)
	}

	ack, err := m.carrier.CancelShipment(ctx, awb)
	if err != nil {
		return nil, err
	}
	if !ack.Accepted {
		return nil, notAccepted(m.carrier.Name(), "cancellation", ack)
	}

	outcome, err := m.apply(ctx, awb, domain.SourceCancel, func(current *domain.Shipment) (shipper.Decision, store.ShipmentUpdate) {
		return shipper.Decide(current.Status, shipper.StatusCancelled),
			store.ShipmentUpdate{Status: shipper.StatusCancelled, Metadata: ack.Raw}
	})
	if err != nil {
		return nil, err
	}
	if outcome.Shipment.Status != shipper.StatusCancelled {
		m.logger.Ctx(ctx).Warn("Carrier accepted cancellation but shipment already reached a final state",
			zap.String("awb", awb),
			zap.String("status", string(outcome.Shipment.Status)),
		)
		return nil, fmt.Errorf("shipment %s reached %s before cancellation was recorded: %w",
			awb, outcome.Shipment.Status, domain.ErrNotCancellable)
	}
	return outcome.Shipment, nil
}

// PickupInput is a seller's pickup request.
type PickupInput struct {
	Location string
	Date     time.Time
	Slot     string // HH:MM:SS
}

// SchedulePickup requests a carrier pickup for a created shipment, or
// reschedules one already scheduled.
func (m *Machine) SchedulePickup(ctx context.Context, awb, sellerID string, in PickupInput) (*domain.Shipment, error) {
	s, err := m.owned(ctx, awb, sellerID)
	if err != nil {
		return nil, err
	}
	if s.Status != shipper.StatusCreated && s.Status != shipper.StatusPickupScheduled {
		return nil, fmt.Errorf("pickup cannot be scheduled for %s shipment %s: %w", s.Status, awb, domain.ErrConflict)
	}

	ack, err := m.carrier.RequestPickup(ctx, &shipper.PickupRequest{
		Location:     in.Location,
		Date:         in.Date,
		SlotTime:     in.Slot,
		PackageCount: 1,
	})
	if err != nil {
		return nil, err
	}
	if !ack.Accepted {
		return nil, notAccepted(m.carrier.Name(), "pickup", ack)
	}

	date := in.Date
	outcome, err := m.ApplyOutbound(ctx, awb, OutboundResult{
		Status:     shipper.StatusPickupScheduled,
		Raw:        ack.Raw,
		PickupDate: &date,
		PickupSlot: in.Slot,
	})
	if err != nil {
		return nil, err
	}
	return outcome.Shipment, nil
}

// Cancellable reports whether a seller may still cancel a shipment in s.
func Cancellable(s shipper.ShipmentStatus) bool {
	return s == shipper.StatusCreated || s == shipper.StatusPickupScheduled
}

// owned loads a shipment and checks that sellerID owns it.
func (m *Machine) owned(ctx context.Context, awb, sellerID string) (*domain.Shipment, error) {
	if sellerID == "" {
		return nil, domain.ErrUnauthorized
	}
	s, err := m.store.GetShipment(ctx, awb)
	if err != nil {
		return nil, err
	}
	if s.SellerID != sellerID {
		return nil, fmt.Errorf("shipment %s: %w", awb, domain.ErrForbidden)
	}
	return s, nil
}

type decideFunc func(current *domain.Shipment) (shipper.Decision, store.ShipmentUpdate)

// apply runs the read, decide, compare-and-set loop.
func (m *Machine) apply(ctx context.Context, awb, source string, decide decideFunc) (*Outcome, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		current, err := m.store.GetShipment(ctx, awb)
		if err != nil {
			return nil, err
		}

		decision, update := decide(current)
		if decision == shipper.Discard {
			m.logger.Ctx(ctx).Debug("Discarded stale shipment event",
				zap.String("awb", awb),
				zap.String("current", string(current.Status)),
				zap.String("source", source),
			)
			return &Outcome{Shipment: current, Previous: current.Status, Decision: decision}, nil
		}

		ok, err := m.store.CompareAndSetShipment(ctx, awb, current.Status, update)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.logger.Ctx(ctx).Debug("Shipment changed concurrently, re-evaluating",
				zap.String("awb", awb),
				zap.Int("attempt", attempt),
			)
			continue
		}

		next := applyUpdate(current, update, m.now())
		outcome := &Outcome{Shipment: next, Previous: current.Status, Decision: decision}
		if err := m.afterWrite(ctx, outcome, source); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	return nil, fmt.Errorf("shipment %s: %d compare-and-set attempts lost: %w", awb, maxCASAttempts, domain.ErrStorageConflict)
}

// afterWrite propagates terminal outcomes to the order and publishes the
// change. A refresh of a terminal status re-syncs an order whose earlier
// update failed, as long as the order is not terminal yet and this shipment
// has not been replaced.
func (m *Machine) afterWrite(ctx context.Context, o *Outcome, source string) error {
	s := o.Shipment
	orderStatus, propagates := orderStatusFor(s.Status)

	if o.Decision != shipper.Advance {
		if !propagates {
			return nil
		}
		repair, err := m.needsOrderRepair(ctx, s)
		if err != nil || !repair {
			return err
		}
	}

	if propagates {
		if err := m.store.UpdateOrderStatus(ctx, s.OrderID, orderStatus); err != nil {
			return fmt.Errorf("update order %s to %s: %w", s.OrderID, orderStatus, err)
		}
	}
	if o.Decision != shipper.Advance {
		return nil
	}

	m.metrics.RecordShipmentTransition(string(o.Previous), string(s.Status), source)
	m.logger.Ctx(ctx).Info("Shipment status changed",
		zap.String("awb", s.AWB),
		zap.String("from", string(o.Previous)),
		zap.String("to", string(s.Status)),
		zap.String("source", source),
	)

	if m.publisher != nil {
		event := domain.ShipmentStatusChangedEvent{
			AWB:       s.AWB,
			OrderID:   s.OrderID,
			SellerID:  s.SellerID,
			From:      o.Previous,
			To:        s.Status,
			Source:    source,
			Timestamp: m.now(),
		}
		if err := m.publisher.PublishStatusChanged(ctx, event); err != nil {
			m.logger.Ctx(ctx).Error("Failed to publish status change",
				zap.String("awb", s.AWB),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Machine) needsOrderRepair(ctx context.Context, s *domain.Shipment) (bool, error) {
	order, err := m.store.GetOrder(ctx, s.OrderID)
	if err != nil {
		return false, err
	}
	if order.Status == domain.OrderStatusDelivered || order.Status == domain.OrderStatusCancelled {
		return false, nil
	}

	siblings, err := m.store.ListShipmentsByOrder(ctx, s.OrderID)
	if err != nil {
		return false, err
	}
	for _, other := range siblings {
		if other.AWB == s.AWB {
			continue
		}
		if other.Active() || other.CreatedAt.After(s.CreatedAt) {
			return false, nil
		}
	}
	return true, nil
}

func orderStatusFor(s shipper.ShipmentStatus) (domain.OrderStatus, bool) {
	switch s {
	case shipper.StatusDelivered:
		return domain.OrderStatusDelivered, true
	case shipper.StatusCancelled:
		return domain.OrderStatusCancelled, true
	}
	return "", false
}

func applyUpdate(s *domain.Shipment, u store.ShipmentUpdate, now time.Time) *domain.Shipment {
	next := *s
	next.Status = u.Status
	if u.Metadata != nil {
		next.Metadata = u.Metadata
	}
	if u.PickupRequestedAt != nil {
		next.PickupDate = u.PickupDate
		next.PickupSlot = u.PickupSlot
		next.PickupRequestedAt = u.PickupRequestedAt
	}
	next.UpdatedAt = now
	return &next
}

// notAccepted reports an acknowledgment that could not be classified as
// success. It is always a failure.
func notAccepted(carrier, action string, ack *shipper.Ack) error {
	return shipper.NewShipperError(carrier, shipper.CodeAmbiguous, action+" not acknowledged by carrier").
		WithSnippet(ack.Raw)
}

// IsNotAccepted reports whether err is an unclassifiable acknowledgment.
func IsNotAccepted(err error) bool {
	return errors.Is(err, shipper.ErrProviderAmbiguous)
}
