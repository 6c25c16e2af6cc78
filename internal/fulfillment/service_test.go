package fulfillment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/payment"
	"github.com/tournevent/fulfillment/internal/shipment"
	"github.com/tournevent/fulfillment/internal/store"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/internal/webhook"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/tournevent/fulfillment/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	seller        = "seller-1"
	webhookSecret = "whsec"
)

type fixture struct {
	svc     *fulfillment.Service
	st      *store.Memory
	carrier *mock.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	carrier := mock.New("delhivery")
	logger := otelzap.New(zap.NewNop())
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	machine := shipment.NewMachine(st, carrier, nil, logger, metrics)
	svc := fulfillment.NewService(
		fulfillment.Config{LabelSize: shipper.LabelSize4R, PickupLocation: "Main Warehouse"},
		st,
		carrier,
		payment.NewManager(st, logger, metrics),
		machine,
		webhook.NewProcessor(webhook.NewVerifier(webhookSecret, false), machine, logger, metrics),
		logger,
	)
	return &fixture{svc: svc, st: st, carrier: carrier}
}

func (f *fixture) paidOrder(t *testing.T) *domain.Order {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.CreateOrder(ctx, payment.CreateRequest{
		IdempotencyKey: uuid.NewString(),
		SellerID:       seller,
		CustomerID:     "cust-1",
		AmountMinor:    49900,
		Currency:       "INR",
	})
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, payment.ConfirmRequest{
		PaymentOrderID:  res.PaymentOrder.ID,
		ProviderOrderID: "pay_1",
		Paid:            true,
	})
	require.NoError(t, err)
	return res.Order
}

func parcel() fulfillment.ShipmentInput {
	return fulfillment.ShipmentInput{
		Consignee: shipper.Address{
			Name:       "Asha Rao",
			Line1:      "12 MG Road",
			City:       "Bengaluru",
			State:      "KA",
			PostalCode: "560001",
			Country:    "India",
			Phone:      "9999999999",
		},
		Package: shipper.Package{WeightGrams: 500, Description: "Jersey"},
	}
}

func tomorrow() string {
	return time.Now().UTC().AddDate(0, 0, 1).Format(time.DateOnly)
}

func TestCreateShipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)

	sh, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)
	assert.Equal(t, "delhivery-AWB-0001", sh.AWB)
	assert.Equal(t, shipper.StatusCreated, sh.Status)
	assert.Equal(t, order.ID, sh.OrderID)
	assert.NotEmpty(t, sh.Metadata)

	stored, err := f.svc.GetShipment(ctx, seller, sh.AWB)
	require.NoError(t, err)
	assert.Equal(t, sh.AWB, stored.AWB)

	// one active shipment per order
	_, err = f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, []string{"create"}, f.carrier.Calls())
}

func TestCreateShipment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)

	_, err := f.svc.CreateShipment(ctx, "", order.ID, parcel())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.CreateShipment(ctx, seller, uuid.NewString(), parcel())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.CreateShipment(ctx, "seller-2", order.ID, parcel())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	bad := parcel()
	bad.PaymentMode = "barter"
	_, err = f.svc.CreateShipment(ctx, seller, order.ID, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	noAddress := parcel()
	noAddress.Consignee.PostalCode = ""
	_, err = f.svc.CreateShipment(ctx, seller, order.ID, noAddress)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Empty(t, f.carrier.Calls())
}

func TestCreateShipment_UnpaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.CreateOrder(ctx, payment.CreateRequest{
		IdempotencyKey: uuid.NewString(),
		SellerID:       seller,
		AmountMinor:    1000,
		Currency:       "INR",
	})
	require.NoError(t, err)

	_, err = f.svc.CreateShipment(ctx, seller, res.Order.ID, parcel())
	assert.ErrorIs(t, err, domain.ErrConflict)

	cod := parcel()
	cod.PaymentMode = "cod"
	sh, err := f.svc.CreateShipment(ctx, seller, res.Order.ID, cod)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusCreated, sh.Status)
}

func TestCreateShipment_CarrierRejects(t *testing.T) {
	f := newFixture(t)
	f.carrier.CreateErr = shipper.NewShipperError("delhivery", shipper.CodeRejected, "pincode not serviceable")
	order := f.paidOrder(t)

	_, err := f.svc.CreateShipment(context.Background(), seller, order.ID, parcel())
	assert.ErrorIs(t, err, shipper.ErrProviderRejected)

	shipments, err := f.st.ListShipmentsByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, shipments)
}

func TestCreateShipment_ReplacesReturnedShipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)

	first, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)

	body := []byte(`{"awb":"` + first.AWB + `","status":"RTO Initiated"}`)
	result, err := f.svc.ProcessWebhook(ctx, body, webhook.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, webhook.ResultApplied, result)

	second, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)
	assert.NotEqual(t, first.AWB, second.AWB)
}

func TestCancelShipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	sh, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)

	_, err = f.svc.CancelShipment(ctx, "seller-2", sh.AWB)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := f.svc.CancelShipment(ctx, seller, sh.AWB)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusCancelled, cancelled.Status)

	stored, err := f.st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
}

func TestCreateShipment_ReplacesCancelledShipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	first, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)
	_, err = f.svc.CancelShipment(ctx, seller, first.AWB)
	require.NoError(t, err)

	second, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)
	assert.Equal(t, "delhivery-AWB-0002", second.AWB)
	assert.Equal(t, shipper.StatusCreated, second.Status)

	stored, err := f.st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)

	old, err := f.svc.GetShipment(ctx, seller, first.AWB)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusCancelled, old.Status)
}

func TestProcessWebhook_DuplicateForReplacedShipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	first, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)
	_, err = f.svc.CancelShipment(ctx, seller, first.AWB)
	require.NoError(t, err)
	second, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)

	for _, status := range []string{"Cancelled", "Manifest Uploaded"} {
		body := []byte(`{"awb":"` + first.AWB + `","status":"` + status + `"}`)
		result, err := f.svc.ProcessWebhook(ctx, body, webhook.Sign(webhookSecret, body))
		require.NoError(t, err)
		assert.Equal(t, webhook.ResultRefreshed, result)
	}

	stored, err := f.st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)

	live, err := f.svc.GetShipment(ctx, seller, second.AWB)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusCreated, live.Status)
}

func TestConfirmPayment_AfterCashOnDeliveryDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.CreateOrder(ctx, payment.CreateRequest{
		IdempotencyKey: uuid.NewString(),
		SellerID:       seller,
		AmountMinor:    49900,
		Currency:       "INR",
	})
	require.NoError(t, err)

	cod := parcel()
	cod.PaymentMode = "COD"
	sh, err := f.svc.CreateShipment(ctx, seller, res.Order.ID, cod)
	require.NoError(t, err)

	body := []byte(`{"awb":"` + sh.AWB + `","status":"Delivered"}`)
	result, err := f.svc.ProcessWebhook(ctx, body, webhook.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, webhook.ResultApplied, result)

	po, err := f.svc.ConfirmPayment(ctx, payment.ConfirmRequest{
		PaymentOrderID:  res.PaymentOrder.ID,
		ProviderOrderID: "pay_cod",
		Paid:            true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, po.Status)

	stored, err := f.st.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, stored.Status)
}

func TestSchedulePickup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	sh, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)

	got, err := f.svc.SchedulePickup(ctx, seller, sh.AWB, fulfillment.PickupInput{Date: tomorrow(), Slot: "11:00:00"})
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusPickupScheduled, got.Status)
	require.NotNil(t, got.PickupDate)
	assert.Equal(t, tomorrow(), got.PickupDate.Format(time.DateOnly))

	pickups := f.carrier.Pickups()
	require.Len(t, pickups, 1)
	assert.Equal(t, "Main Warehouse", pickups[0].Location)
}

func TestSchedulePickup_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []fulfillment.PickupInput{
		{Date: "18-10-2026", Slot: "11:00:00"},
		{Date: tomorrow(), Slot: "11am"},
		{Date: "2000-01-01", Slot: "11:00:00"},
	}
	for _, in := range tests {
		_, err := f.svc.SchedulePickup(ctx, seller, "AWB1", in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%+v", in)
	}
	assert.Empty(t, f.carrier.Calls())
}

func TestLabel_CachesFreshURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	sh, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)

	label, err := f.svc.Label(ctx, seller, sh.AWB, "a4")
	require.NoError(t, err)
	assert.False(t, label.Cached)
	assert.Equal(t, shipper.LabelSizeA4, label.Size)

	stored, err := f.st.GetShipment(ctx, sh.AWB)
	require.NoError(t, err)
	assert.Equal(t, label.URL, stored.LabelURL)

	again, err := f.svc.Label(ctx, seller, sh.AWB, "")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, label.URL, again.URL)
}

func TestLabel_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	sh, err := f.svc.CreateShipment(ctx, seller, order.ID, parcel())
	require.NoError(t, err)

	_, err = f.svc.Label(ctx, seller, sh.AWB, "letter")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Label(ctx, "seller-2", sh.AWB, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.carrier.LabelErr = shipper.NewShipperError("delhivery", shipper.CodeLabelUnavailable, "no label")
	_, err = f.svc.Label(ctx, seller, sh.AWB, "")
	assert.True(t, errors.Is(err, shipper.ErrLabelUnavailable))
}

func TestReady(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Ready(context.Background()))
}
