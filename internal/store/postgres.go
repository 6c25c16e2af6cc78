package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

const uniqueViolation = "23505"

// Postgres is the PostgreSQL Store. Status transitions are conditional
// UPDATEs keyed on the primary key, so no row locks are held across calls.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// GetOrder returns the order with id.
func (p *Postgres) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}

	err := p.db.QueryRowContext(ctx, `
		SELECT id, seller_id, customer_id, status, amount_minor, currency, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.SellerID, &order.CustomerID, &order.Status,
		&order.AmountMinor, &order.Currency, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return order, nil
}

// UpdateOrderStatus overwrites the order status.
func (p *Postgres) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, id)
	if err != nil {
		return err
	}
	return requireRow(result, "order", id)
}

const paymentOrderColumns = `id, order_id, idempotency_key, provider_order_id, amount_minor, currency, status, metadata, created_at, updated_at`

// GetPaymentOrder returns the payment order with id.
func (p *Postgres) GetPaymentOrder(ctx context.Context, id string) (*domain.PaymentOrder, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentOrderColumns+` FROM payment_orders WHERE id = $1`, id)
	po, err := scanPaymentOrder(row)
	if err != nil {
		return nil, notFound(err, "payment order", id)
	}
	return po, nil
}

// GetPaymentOrderByKey returns the payment order created for an
// idempotency key.
func (p *Postgres) GetPaymentOrderByKey(ctx context.Context, key string) (*domain.PaymentOrder, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentOrderColumns+` FROM payment_orders WHERE idempotency_key = $1`, key)
	po, err := scanPaymentOrder(row)
	if err != nil {
		return nil, notFound(err, "payment order with key", key)
	}
	return po, nil
}

// InsertPaymentOrderIfAbsent stores the order and its payment order unless
// the key is taken. It reports whether the pair was inserted.
func (p *Postgres) InsertPaymentOrderIfAbsent(ctx context.Context, order *domain.Order, po *domain.PaymentOrder) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, seller_id, customer_id, status, amount_minor, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.SellerID, order.CustomerID, order.Status, order.AmountMinor, order.Currency,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return false, conflict(err, "order", order.ID)
	}

	// Concurrent inserts with the same key wait on the unique index; the
	// loser inserts nothing and its order row is rolled back.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO payment_orders (id, order_id, idempotency_key, provider_order_id, amount_minor, currency, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, po.ID, po.OrderID, po.IdempotencyKey, nullString(po.ProviderOrderID), po.AmountMinor, po.Currency,
		po.Status, nullJSON(po.Metadata), po.CreatedAt, po.UpdatedAt)
	if err != nil {
		return false, conflict(err, "payment order", po.ID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	return true, tx.Commit()
}

// SetPaymentOrderResult moves a payment order from expected to next and reports whether it did.
func (p *Postgres) SetPaymentOrderResult(ctx context.Context, id string, expected, next domain.PaymentStatus, providerOrderID string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET status = $3, provider_order_id = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expected, next, nullString(providerOrderID))
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		if _, err := p.GetPaymentOrder(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

const shipmentColumns = `awb, order_id, seller_id, status, label_url, pickup_date, pickup_slot, pickup_requested_at, metadata, created_at, updated_at`

// GetShipment returns the shipment with awb.
func (p *Postgres) GetShipment(ctx context.Context, awb string) (*domain.Shipment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE awb = $1`, awb)
	s, err := scanShipment(row)
	if err != nil {
		return nil, notFound(err, "shipment", awb)
	}
	return s, nil
}

// InsertShipment stores a new shipment. It conflicts when the order already has an active one.
func (p *Postgres) InsertShipment(ctx context.Context, s *domain.Shipment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO shipments (awb, order_id, seller_id, status, label_url, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.AWB, s.OrderID, s.SellerID, s.Status, nullString(s.LabelURL), nullJSON(s.Metadata), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return conflict(err, "shipment", s.AWB)
	}
	return nil
}

// ListShipmentsByOrder returns the order's shipments, oldest first.
func (p *Postgres) ListShipmentsByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CompareAndSetShipment applies update only while the stored status is expected.
func (p *Postgres) CompareAndSetShipment(ctx context.Context, awb string, expected shipper.ShipmentStatus, update ShipmentUpdate) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if update.PickupRequestedAt != nil {
		result, err = p.db.ExecContext(ctx, `
			UPDATE shipments
			SET status = $3, metadata = COALESCE($4::jsonb, metadata),
			    pickup_date = $5, pickup_slot = $6, pickup_requested_at = $7, updated_at = NOW()
			WHERE awb = $1 AND status = $2
		`, awb, expected, update.Status, nullJSON(update.Metadata),
			nullTime(update.PickupDate), nullString(update.PickupSlot), nullTime(update.PickupRequestedAt))
	} else {
		result, err = p.db.ExecContext(ctx, `
			UPDATE shipments
			SET status = $3, metadata = COALESCE($4::jsonb, metadata), updated_at = NOW()
			WHERE awb = $1 AND status = $2
		`, awb, expected, update.Status, nullJSON(update.Metadata))
	}
	if err != nil {
		return false, conflict(err, "shipment", awb)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		// distinguish a lost race from a missing shipment
		if _, err := p.GetShipment(ctx, awb); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// SetShipmentLabel caches the label URL.
func (p *Postgres) SetShipmentLabel(ctx context.Context, awb, url string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE shipments SET label_url = $2, updated_at = NOW()
		WHERE awb = $1
	`, awb, url)
	if err != nil {
		return err
	}
	return requireRow(result, "shipment", awb)
}

// Ping checks that the store is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPaymentOrder(row scanner) (*domain.PaymentOrder, error) {
	var (
		po         domain.PaymentOrder
		providerID sql.NullString
		metadata   []byte
	)
	err := row.Scan(&po.ID, &po.OrderID, &po.IdempotencyKey, &providerID, &po.AmountMinor, &po.Currency,
		&po.Status, &metadata, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return nil, err
	}
	po.ProviderOrderID = providerID.String
	if metadata != nil {
		po.Metadata = json.RawMessage(metadata)
	}
	return &po, nil
}

func scanShipment(row scanner) (*domain.Shipment, error) {
	var (
		s           domain.Shipment
		labelURL    sql.NullString
		pickupDate  sql.NullTime
		pickupSlot  sql.NullString
		requestedAt sql.NullTime
		metadata    []byte
	)
	err := row.Scan(&s.AWB, &s.OrderID, &s.SellerID, &s.Status, &labelURL, &pickupDate, &pickupSlot,
		&requestedAt, &metadata, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.LabelURL = labelURL.String
	s.PickupSlot = pickupSlot.String
	if pickupDate.Valid {
		s.PickupDate = &pickupDate.Time
	}
	if requestedAt.Valid {
		s.PickupRequestedAt = &requestedAt.Time
	}
	if metadata != nil {
		s.Metadata = json.RawMessage(metadata)
	}
	return &s, nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return err
}

func conflict(err error, kind, id string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrConflict)
	}
	return err
}

func requireRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullJSON passes JSON as text; lib/pq would encode a []byte as bytea.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ Store = (*Postgres)(nil)
