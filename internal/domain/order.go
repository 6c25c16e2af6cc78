package domain

import (
	"encoding/json"
	"time"
)

// OrderStatus is the coarse, customer-facing order status. Carrier progress
// only reaches it through the two terminal outcomes, delivered and cancelled.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusPaymentFailed  OrderStatus = "payment_failed"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type Order struct {
	ID          string      `json:"id"`
	SellerID    string      `json:"seller_id"`
	CustomerID  string      `json:"customer_id,omitempty"`
	Status      OrderStatus `json:"status"`
	AmountMinor int64       `json:"amount_minor"`
	Currency    string      `json:"currency"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "created"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentOrder is the payment intent created together with an Order. At most
// one exists per idempotency key.
type PaymentOrder struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	IdempotencyKey  string          `json:"idempotency_key"`
	ProviderOrderID string          `json:"provider_order_id,omitempty"`
	AmountMinor     int64           `json:"amount_minor"`
	Currency        string          `json:"currency"`
	Status          PaymentStatus   `json:"status"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
