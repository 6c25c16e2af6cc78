// Package payment creates payment orders at most once per idempotency key
// and records their confirmation.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/store"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CreateRequest is a checkout submission.
type CreateRequest struct {
	IdempotencyKey string
	SellerID       string
	CustomerID     string
	AmountMinor    int64
	Currency       string
	Metadata       json.RawMessage
}

// Result is the order and payment order for a key. Replayed is true when
// both already existed.
type Result struct {
	Order        *domain.Order
	PaymentOrder *domain.PaymentOrder
	Replayed     bool
	KeyMinted    bool
}

// Manager is the idempotency key manager for payment orders.
type Manager struct {
	store   store.Store
	logger  *otelzap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewManager creates a payment order manager.
func NewManager(st store.Store, logger *otelzap.Logger, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		store:   st,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrGet returns the payment order for req.IdempotencyKey, creating it
// and its order on first use. A missing or malformed key is replaced by a
// fresh one, which gives up retry safety for that call but never collides.
func (m *Manager) CreateOrGet(ctx context.Context, req CreateRequest) (*Result, error) {
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("%w: currency must be a 3-letter ISO code", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.SellerID) == "" {
		return nil, fmt.Errorf("%w: seller id is required", domain.ErrInvalidInput)
	}

	key, minted := normalizeKey(req.IdempotencyKey)
	if minted {
		m.logger.Ctx(ctx).Warn("Idempotency key missing or malformed, minted a new one",
			zap.String("supplied_key", req.IdempotencyKey),
			zap.String("key", key),
		)
	}

	if !minted {
		existing, err := m.replay(ctx, key, req.AmountMinor, currency)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	now := m.now()
	order := &domain.Order{
		ID:          uuid.NewString(),
		SellerID:    req.SellerID,
		CustomerID:  req.CustomerID,
		Status:      domain.OrderStatusPendingPayment,
		AmountMinor: req.AmountMinor,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	po := &domain.PaymentOrder{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		IdempotencyKey: key,
		AmountMinor:    req.AmountMinor,
		Currency:       currency,
		Status:         domain.PaymentStatusCreated,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := m.store.InsertPaymentOrderIfAbsent(ctx, order, po)
	if err != nil {
		return nil, fmt.Errorf("insert payment order: %w", err)
	}
	if inserted {
		m.metrics.RecordPaymentOrder("created")
		m.logger.Ctx(ctx).Info("Payment order created",
			zap.String("order_id", order.ID),
			zap.String("payment_order_id", po.ID),
			zap.Int64("amount_minor", po.AmountMinor),
			zap.String("currency", po.Currency),
		)
		return &Result{Order: order, PaymentOrder: po, KeyMinted: minted}, nil
	}

	// Lost the insert race: the winner's record must now be readable.
	existing, err := m.replay(ctx, key, req.AmountMinor, currency)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("payment order for key %s vanished after conflict: %w", key, domain.ErrStorageConflict)
	}
	return existing, err
}

func (m *Manager) replay(ctx context.Context, key string, amount int64, currency string) (*Result, error) {
	po, err := m.store.GetPaymentOrderByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	order, err := m.store.GetOrder(ctx, po.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order for payment order %s: %w", po.ID, err)
	}

	if po.AmountMinor != amount || po.Currency != currency {
		m.logger.Ctx(ctx).Warn("Idempotency key reused with different amount, returning original",
			zap.String("payment_order_id", po.ID),
			zap.Int64("stored_amount_minor", po.AmountMinor),
			zap.Int64("requested_amount_minor", amount),
			zap.String("stored_currency", po.Currency),
			zap.String("requested_currency", currency),
		)
	}

	m.metrics.RecordPaymentOrder("replayed")
	return &Result{Order: order, PaymentOrder: po, Replayed: true}, nil
}

// ConfirmRequest is the payment gateway's authenticated callback.
type ConfirmRequest struct {
	PaymentOrderID  string
	ProviderOrderID string
	Paid            bool
}

// Confirm moves a payment order from created to paid or failed, once. A
// repeated confirmation with the same outcome is a no-op; a different
// outcome is a conflict.
func (m *Manager) Confirm(ctx context.Context, req ConfirmRequest) (*domain.PaymentOrder, error) {
	if _, err := uuid.Parse(req.PaymentOrderID); err != nil {
		return nil, fmt.Errorf("%w: payment order id must be a UUID", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.ProviderOrderID) == "" {
		return nil, fmt.Errorf("%w: provider order id is required", domain.ErrInvalidInput)
	}

	next := domain.PaymentStatusFailed
	if req.Paid {
		next = domain.PaymentStatusPaid
	}

	applied, err := m.store.SetPaymentOrderResult(ctx, req.PaymentOrderID, domain.PaymentStatusCreated, next, req.ProviderOrderID)
	if err != nil {
		return nil, err
	}

	po, err := m.store.GetPaymentOrder(ctx, req.PaymentOrderID)
	if err != nil {
		return nil, err
	}

	if !applied && (po.Status != next || po.ProviderOrderID != req.ProviderOrderID) {
		return nil, fmt.Errorf("%w: payment order %s is already %s", domain.ErrConflict, po.ID, po.Status)
	}

	// A repeated confirmation re-syncs an order whose earlier update failed.
	if err := m.syncOrder(ctx, po); err != nil {
		return nil, err
	}
	if !applied {
		return po, nil
	}

	m.logger.Ctx(ctx).Info("Payment order confirmed",
		zap.String("payment_order_id", po.ID),
		zap.String("status", string(po.Status)),
	)
	return po, nil
}

// syncOrder moves the order out of pending_payment. Orders that already moved
// on, for example a cash on delivery order delivered before the gateway
// confirmed, keep their status.
func (m *Manager) syncOrder(ctx context.Context, po *domain.PaymentOrder) error {
	order, err := m.store.GetOrder(ctx, po.OrderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return nil
	}

	status := domain.OrderStatusPaymentFailed
	if po.Status == domain.PaymentStatusPaid {
		status = domain.OrderStatusPaid
	}
	if err := m.store.UpdateOrderStatus(ctx, order.ID, status); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// normalizeKey returns the canonical form of key, or a fresh UUID and true
// when key is not a valid UUID.
func normalizeKey(key string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(key))
	if err != nil || parsed == uuid.Nil {
		return uuid.NewString(), true
	}
	return parsed.String(), false
}
