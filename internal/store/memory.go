package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Memory is an in-process Store. Records are copied on the way in and out so
// callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	orders        map[string]domain.Order
	paymentOrders map[string]domain.PaymentOrder
	paymentKeys   map[string]string // idempotency key -> payment order id
	shipments     map[string]domain.Shipment
	now           func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:        make(map[string]domain.Order),
		paymentOrders: make(map[string]domain.PaymentOrder),
		paymentKeys:   make(map[string]string),
		shipments:     make(map[string]domain.Shipment),
		now:           time.Now,
	}
}

// GetOrder returns the order with id.
func (m *Memory) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return &order, nil
}

// UpdateOrderStatus overwrites the order status.
func (m *Memory) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	order.Status = status
	order.UpdatedAt = m.now()
	m.orders[id] = order
	return nil
}

// GetPaymentOrder returns the payment order with id.
func (m *Memory) GetPaymentOrder(ctx context.Context, id string) (*domain.PaymentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	po, ok := m.paymentOrders[id]
	if !ok {
		return nil, fmt.Errorf("payment order %s: %w", id, domain.ErrNotFound)
	}
	return clonePaymentOrder(po), nil
}

// GetPaymentOrderByKey returns the payment order created for an
// idempotency key.
func (m *Memory) GetPaymentOrderByKey(ctx context.Context, key string) (*domain.PaymentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.paymentKeys[key]
	if !ok {
		return nil, fmt.Errorf("payment order with key %s: %w", key, domain.ErrNotFound)
	}
	return clonePaymentOrder(m.paymentOrders[id]), nil
}

// InsertPaymentOrderIfAbsent stores the order and its payment order unless
// the key is taken. It reports whether the pair was inserted.
func (m *Memory) InsertPaymentOrderIfAbsent(ctx context.Context, order *domain.Order, po *domain.PaymentOrder) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.paymentKeys[po.IdempotencyKey]; exists {
		return false, nil
	}
	if _, exists := m.orders[order.ID]; exists {
		return false, fmt.Errorf("order %s: %w", order.ID, domain.ErrConflict)
	}

	m.orders[order.ID] = *order
	m.paymentOrders[po.ID] = *clonePaymentOrder(*po)
	m.paymentKeys[po.IdempotencyKey] = po.ID
	return true, nil
}

// SetPaymentOrderResult moves a payment order from expected to next and reports whether it did.
func (m *Memory) SetPaymentOrderResult(ctx context.Context, id string, expected, next domain.PaymentStatus, providerOrderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	po, ok := m.paymentOrders[id]
	if !ok {
		return false, fmt.Errorf("payment order %s: %w", id, domain.ErrNotFound)
	}
	if po.Status != expected {
		return false, nil
	}
	po.Status = next
	po.ProviderOrderID = providerOrderID
	po.UpdatedAt = m.now()
	m.paymentOrders[id] = po
	return true, nil
}

// GetShipment returns the shipment with awb.
func (m *Memory) GetShipment(ctx context.Context, awb string) (*domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.shipments[awb]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", awb, domain.ErrNotFound)
	}
	return cloneShipment(s), nil
}

// InsertShipment stores a new shipment. It conflicts when the order already has an active one.
func (m *Memory) InsertShipment(ctx context.Context, s *domain.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.shipments[s.AWB]; exists {
		return fmt.Errorf("shipment %s: %w", s.AWB, domain.ErrConflict)
	}
	for _, existing := range m.shipments {
		if existing.OrderID == s.OrderID && existing.Active() {
			return fmt.Errorf("order %s already has active shipment %s: %w", s.OrderID, existing.AWB, domain.ErrConflict)
		}
	}
	m.shipments[s.AWB] = *cloneShipment(*s)
	return nil
}

// ListShipmentsByOrder returns the order's shipments, oldest first.
func (m *Memory) ListShipmentsByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Shipment
	for _, s := range m.shipments {
		if s.OrderID == orderID {
			out = append(out, cloneShipment(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CompareAndSetShipment applies update only while the stored status is expected.
func (m *Memory) CompareAndSetShipment(ctx context.Context, awb string, expected shipper.ShipmentStatus, update ShipmentUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[awb]
	if !ok {
		return false, fmt.Errorf("shipment %s: %w", awb, domain.ErrNotFound)
	}
	if s.Status != expected {
		return false, nil
	}

	s.Status = update.Status
	if update.Metadata != nil {
		s.Metadata = append([]byte(nil), update.Metadata...)
	}
	if update.PickupRequestedAt != nil {
		s.PickupDate = update.PickupDate
		s.PickupSlot = update.PickupSlot
		s.PickupRequestedAt = update.PickupRequestedAt
	}
	s.UpdatedAt = m.now()
	m.shipments[awb] = s
	return true, nil
}

// SetShipmentLabel caches the label URL.
func (m *Memory) SetShipmentLabel(ctx context.Context, awb, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[awb]
	if !ok {
		return fmt.Errorf("shipment %s: %w", awb, domain.ErrNotFound)
	}
	s.LabelURL = url
	s.UpdatedAt = m.now()
	m.shipments[awb] = s
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func clonePaymentOrder(po domain.PaymentOrder) *domain.PaymentOrder {
	if po.Metadata != nil {
		po.Metadata = append([]byte(nil), po.Metadata...)
	}
	return &po
}

func cloneShipment(s domain.Shipment) *domain.Shipment {
	if s.Metadata != nil {
		s.Metadata = append([]byte(nil), s.Metadata...)
	}
	return &s
}

var _ Store = (*Memory)(nil)
