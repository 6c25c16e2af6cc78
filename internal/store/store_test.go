package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/store"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// runStoreSuite exercises the Store contract against any engine.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("payment order insert is idempotent per key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := uuid.NewString()

		order, po := newOrder(key, 10000)
		inserted, err := s.InsertPaymentOrderIfAbsent(ctx, order, po)
		require.NoError(t, err)
		assert.True(t, inserted)

		order2, po2 := newOrder(key, 10000)
		inserted, err = s.InsertPaymentOrderIfAbsent(ctx, order2, po2)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := s.GetPaymentOrderByKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, po.ID, got.ID)

		_, err = s.GetOrder(ctx, order2.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("concurrent inserts with one key store one row", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := uuid.NewString()

		var wg sync.WaitGroup
		results := make([]bool, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				order, po := newOrder(key, 500)
				ok, err := s.InsertPaymentOrderIfAbsent(ctx, order, po)
				assert.NoError(t, err)
				results[i] = ok
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, ok := range results {
			if ok {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("payment result is set once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, po := insertOrder(t, s)

		ok, err := s.SetPaymentOrderResult(ctx, po.ID, domain.PaymentStatusCreated, domain.PaymentStatusPaid, "pay_123")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetPaymentOrderResult(ctx, po.ID, domain.PaymentStatusCreated, domain.PaymentStatusFailed, "pay_123")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetPaymentOrder(ctx, po.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, got.Status)
		assert.Equal(t, "pay_123", got.ProviderOrderID)

		_, err = s.SetPaymentOrderResult(ctx, uuid.NewString(), domain.PaymentStatusCreated, domain.PaymentStatusPaid, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("order status update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		order, _ := insertOrder(t, s)

		require.NoError(t, s.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusDelivered))
		got, err := s.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusDelivered, got.Status)

		assert.ErrorIs(t, s.UpdateOrderStatus(ctx, uuid.NewString(), domain.OrderStatusCancelled), domain.ErrNotFound)
	})

	t.Run("shipment compare and set", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		order, _ := insertOrder(t, s)
		awb := insertShipment(t, s, order.ID)

		ok, err := s.CompareAndSetShipment(ctx, awb, shipper.StatusCreated, store.ShipmentUpdate{
			Status:   shipper.StatusInTransit,
			Metadata: json.RawMessage(`{"Status":"In Transit"}`),
		})
		require.NoError(t, err)
		assert.True(t, ok)

		// stale expectation loses
		ok, err = s.CompareAndSetShipment(ctx, awb, shipper.StatusCreated, store.ShipmentUpdate{Status: shipper.StatusCancelled})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetShipment(ctx, awb)
		require.NoError(t, err)
		assert.Equal(t, shipper.StatusInTransit, got.Status)
		assert.JSONEq(t, `{"Status":"In Transit"}`, string(got.Metadata))

		// nil metadata keeps the stored payload
		ok, err = s.CompareAndSetShipment(ctx, awb, shipper.StatusInTransit, store.ShipmentUpdate{Status: shipper.StatusInTransit})
		require.NoError(t, err)
		assert.True(t, ok)
		got, err = s.GetShipment(ctx, awb)
		require.NoError(t, err)
		assert.JSONEq(t, `{"Status":"In Transit"}`, string(got.Metadata))

		_, err = s.CompareAndSetShipment(ctx, "missing", shipper.StatusCreated, store.ShipmentUpdate{Status: shipper.StatusInTransit})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("shipment pickup fields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		order, _ := insertOrder(t, s)
		awb := insertShipment(t, s, order.ID)

		date := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
		now := time.Now().UTC().Truncate(time.Second)
		ok, err := s.CompareAndSetShipment(ctx, awb, shipper.StatusCreated, store.ShipmentUpdate{
			Status:            shipper.StatusPickupScheduled,
			PickupDate:        &date,
			PickupSlot:        "14:00:00",
			PickupRequestedAt: &now,
		})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.GetShipment(ctx, awb)
		require.NoError(t, err)
		require.NotNil(t, got.PickupDate)
		assert.Equal(t, "2026-10-20", got.PickupDate.UTC().Format("2006-01-02"))
		assert.Equal(t, "14:00:00", got.PickupSlot)
		require.NotNil(t, got.PickupRequestedAt)
		assert.True(t, now.Equal(got.PickupRequestedAt.UTC()))
	})

	t.Run("one active shipment per order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		order, _ := insertOrder(t, s)
		awb := insertShipment(t, s, order.ID)

		err := s.InsertShipment(ctx, newShipment(order.ID))
		assert.ErrorIs(t, err, domain.ErrConflict)

		ok, err := s.CompareAndSetShipment(ctx, awb, shipper.StatusCreated, store.ShipmentUpdate{Status: shipper.StatusCancelled})
		require.NoError(t, err)
		require.True(t, ok)

		replacement := newShipment(order.ID)
		require.NoError(t, s.InsertShipment(ctx, replacement))

		list, err := s.ListShipmentsByOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		dup := newShipment(order.ID)
		dup.AWB = replacement.AWB
		assert.ErrorIs(t, s.InsertShipment(ctx, dup), domain.ErrConflict)
	})

	t.Run("label url", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		order, _ := insertOrder(t, s)
		awb := insertShipment(t, s, order.ID)

		require.NoError(t, s.SetShipmentLabel(ctx, awb, "https://labels.example.com/a.pdf"))
		got, err := s.GetShipment(ctx, awb)
		require.NoError(t, err)
		assert.Equal(t, "https://labels.example.com/a.pdf", got.LabelURL)

		assert.ErrorIs(t, s.SetShipmentLabel(ctx, "missing", "x"), domain.ErrNotFound)
		_, err = s.GetShipment(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func newOrder(key string, amount int64) (*domain.Order, *domain.PaymentOrder) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	order := &domain.Order{
		ID:          uuid.NewString(),
		SellerID:    "seller-1",
		Status:      domain.OrderStatusPendingPayment,
		AmountMinor: amount,
		Currency:    "INR",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	po := &domain.PaymentOrder{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		IdempotencyKey: key,
		AmountMinor:    amount,
		Currency:       "INR",
		Status:         domain.PaymentStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return order, po
}

func insertOrder(t *testing.T, s store.Store) (*domain.Order, *domain.PaymentOrder) {
	t.Helper()
	order, po := newOrder(uuid.NewString(), 10000)
	ok, err := s.InsertPaymentOrderIfAbsent(context.Background(), order, po)
	require.NoError(t, err)
	require.True(t, ok)
	return order, po
}

func newShipment(orderID string) *domain.Shipment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Shipment{
		AWB:       "AWB-" + uuid.NewString()[:8],
		OrderID:   orderID,
		SellerID:  "seller-1",
		Status:    shipper.StatusCreated,
		Metadata:  json.RawMessage(`{"waybill":"x"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func insertShipment(t *testing.T, s store.Store, orderID string) string {
	t.Helper()
	sh := newShipment(orderID)
	require.NoError(t, s.InsertShipment(context.Background(), sh))
	return sh.AWB
}
