package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/payment"
	"github.com/tournevent/fulfillment/internal/server"
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
	secret = "whsec"
	seller = "seller-1"
)

type testServer struct {
	handler http.Handler
	carrier *mock.Client
	st      *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	st := store.NewMemory()
	carrier := mock.New("delhivery")
	machine := shipment.NewMachine(st, carrier, nil, logger, metrics)
	svc := fulfillment.NewService(
		fulfillment.Config{LabelSize: shipper.LabelSize4R, PickupLocation: "Main Warehouse"},
		st,
		carrier,
		payment.NewManager(st, logger, metrics),
		machine,
		webhook.NewProcessor(webhook.NewVerifier(secret, false), machine, logger, metrics),
		logger,
	)

	srv := server.New(server.Config{Port: 8080}, svc, logger, reg)
	return &testServer{handler: srv.Handler(), carrier: carrier, st: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func asSeller(id string) map[string]string {
	return map[string]string{"X-Seller-ID": id}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// paidOrder creates and confirms an order, returning its id.
func (ts *testServer) paidOrder(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/orders", map[string]any{
		"seller_id":    seller,
		"amount_minor": 49900,
		"currency":     "INR",
	}, map[string]string{"Idempotency-Key": uuid.NewString()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode(t, rec)

	poID := resp["payment_order"].(map[string]any)["id"].(string)
	rec = ts.do(t, http.MethodPost, "/v1/payment-orders/"+poID+"/confirm", map[string]any{
		"provider_order_id": "pay_1",
		"paid":              true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return resp["order"].(map[string]any)["id"].(string)
}

func shipmentBody() map[string]any {
	return map[string]any{
		"consignee": map[string]any{
			"name":        "Asha Rao",
			"line1":       "12 MG Road",
			"city":        "Bengaluru",
			"postal_code": "560001",
		},
		"package": map[string]any{"weight_grams": 500},
	}
}

func (ts *testServer) shipment(t *testing.T) string {
	t.Helper()
	orderID := ts.paidOrder(t)
	rec := ts.do(t, http.MethodPost, "/v1/orders/"+orderID+"/shipments", shipmentBody(), asSeller(seller))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["awb"].(string)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.paidOrder(t)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fulfillment_payment_orders_total")
}

func TestServer_CreateOrder_Idempotent(t *testing.T) {
	ts := newTestServer(t)
	key := "11111111-1111-1111-1111-111111111111"
	body := map[string]any{"seller_id": seller, "amount_minor": 10000, "currency": "INR"}

	first := ts.do(t, http.MethodPost, "/v1/orders", body, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, key, first.Header().Get("Idempotency-Key"))

	second := ts.do(t, http.MethodPost, "/v1/orders", body, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusOK, second.Code)

	a, b := decode(t, first), decode(t, second)
	assert.Equal(t, a["payment_order"].(map[string]any)["id"], b["payment_order"].(map[string]any)["id"])
	assert.Equal(t, true, b["replayed"])
}

func TestServer_CreateOrder_Invalid(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/orders", map[string]any{"seller_id": seller, "amount_minor": 0, "currency": "INR"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "invalid_input", resp["error"])
	assert.Equal(t, false, resp["retryable"])

	rec = ts.do(t, http.MethodPost, "/v1/orders", []byte(`{"amount_minor":`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Webhook(t *testing.T) {
	ts := newTestServer(t)
	awb := ts.shipment(t)

	body := []byte(`{"Shipment":{"AWB":"` + awb + `","Status":{"Status":"In Transit"}}}`)
	rec := ts.do(t, http.MethodPost, "/webhooks/delhivery", body,
		map[string]string{"X-Delhivery-Signature": "sha256=" + webhook.Sign(secret, body)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, webhook.ResultApplied, decode(t, rec)["result"])

	rec = ts.do(t, http.MethodPost, "/webhooks/delhivery", body,
		map[string]string{"X-Delhivery-Signature": webhook.Sign("wrong", body)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "signature_invalid", decode(t, rec)["error"])

	bad := []byte(`{"status":"Delivered"}`)
	rec = ts.do(t, http.MethodPost, "/webhooks/delhivery", bad,
		map[string]string{"X-Delhivery-Signature": webhook.Sign(secret, bad)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := []byte(`{"awb":"nope","status":"Delivered"}`)
	rec = ts.do(t, http.MethodPost, "/webhooks/delhivery", unknown,
		map[string]string{"X-Delhivery-Signature": webhook.Sign(secret, unknown)})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.ResultUnknownShipment, decode(t, rec)["result"])
}

func TestServer_ShipmentAccess(t *testing.T) {
	ts := newTestServer(t)
	awb := ts.shipment(t)

	rec := ts.do(t, http.MethodGet, "/v1/shipments/"+awb, nil, asSeller(seller))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "created", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/v1/shipments/"+awb, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/shipments/"+awb, nil, asSeller("seller-2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/shipments/unknown", nil, asSeller(seller))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateShipment_Errors(t *testing.T) {
	ts := newTestServer(t)
	orderID := ts.paidOrder(t)

	rec := ts.do(t, http.MethodPost, "/v1/orders/"+uuid.NewString()+"/shipments", shipmentBody(), asSeller(seller))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/orders/"+orderID+"/shipments", shipmentBody(), asSeller("seller-2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/orders/"+orderID+"/shipments", shipmentBody(), asSeller(seller))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/orders/"+orderID+"/shipments", shipmentBody(), asSeller(seller))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Cancel(t *testing.T) {
	ts := newTestServer(t)
	awb := ts.shipment(t)

	rec := ts.do(t, http.MethodPost, "/v1/shipments/"+awb+"/cancel", nil, asSeller("seller-2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/shipments/"+awb+"/cancel", nil, asSeller(seller))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodPost, "/v1/shipments/"+awb+"/cancel", nil, asSeller(seller))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_cancellable", decode(t, rec)["error"])
}

func TestServer_Cancel_ProviderErrors(t *testing.T) {
	ts := newTestServer(t)
	awb := ts.shipment(t)

	ts.carrier.CancelErr = shipper.NewShipperError("delhivery", shipper.CodeUnavailable, "carrier timed out").
		WithRetryable(true)
	rec := ts.do(t, http.MethodPost, "/v1/shipments/"+awb+"/cancel", nil, asSeller(seller))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "provider_unavailable", resp["error"])
	assert.Equal(t, true, resp["retryable"])

	ts.carrier.CancelErr = nil
	ts.carrier.RejectCancel = true
	rec = ts.do(t, http.MethodPost, "/v1/shipments/"+awb+"/cancel", nil, asSeller(seller))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp = decode(t, rec)
	assert.Equal(t, "provider_ambiguous", resp["error"])
	assert.NotEmpty(t, resp["detail"])
}

func TestServer_Pickup(t *testing.T) {
	ts := newTestServer(t)
	awb := ts.shipment(t)
	date := time.Now().UTC().AddDate(0, 0, 2).Format(time.DateOnly)

	rec := ts.do(t, http.MethodPost, "/v1/shipments/"+awb+"/pickup",
		map[string]any{"date": date, "slot": "14:00:00"}, asSeller(seller))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "pickup_scheduled", resp["status"])
	assert.Equal(t, "14:00:00", resp["pickup_slot"])

	rec = ts.do(t, http.MethodPost, "/v1/shipments/"+awb+"/pickup",
		map[string]any{"date": date, "slot": "2pm"}, asSeller(seller))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Label(t *testing.T) {
	ts := newTestServer(t)
	awb := ts.shipment(t)

	rec := ts.do(t, http.MethodGet, "/v1/shipments/"+awb+"/label?size=A4", nil, asSeller(seller))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "https://labels.example.com/"+awb+"-A4.pdf", rec.Header().Get("Location"))

	stored, err := ts.st.GetShipment(context.Background(), awb)
	require.NoError(t, err)
	assert.Equal(t, rec.Header().Get("Location"), stored.LabelURL)
}

func TestServer_Label_Inline(t *testing.T) {
	ts := newTestServer(t)
	awb := ts.shipment(t)
	ts.carrier.Label = &shipper.Label{Data: []byte("%PDF-1.4 label"), Size: shipper.LabelSize4R}

	rec := ts.do(t, http.MethodGet, "/v1/shipments/"+awb+"/label", nil, asSeller(seller))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 label", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/shipments/"+awb+"/label?size=letter", nil, asSeller(seller))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/webhooks/delhivery", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
