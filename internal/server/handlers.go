package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/payment"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

const (
	maxBodyBytes = 1 << 20

	headerSellerID       = "X-Seller-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	result, err := s.svc.ProcessWebhook(r.Context(), body, r.Header.Get(s.cfg.SignatureHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

type createOrderRequest struct {
	SellerID    string          `json:"seller_id"`
	CustomerID  string          `json:"customer_id"`
	AmountMinor int64           `json:"amount_minor"`
	Currency    string          `json:"currency"`
	Metadata    json.RawMessage `json:"metadata"`
}

type createOrderResponse struct {
	Order        *domain.Order        `json:"order"`
	PaymentOrder *domain.PaymentOrder `json:"payment_order"`
	Replayed     bool                 `json:"replayed"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.CreateOrder(r.Context(), payment.CreateRequest{
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
		SellerID:       req.SellerID,
		CustomerID:     req.CustomerID,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set(headerIdempotencyKey, res.PaymentOrder.IdempotencyKey)
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, createOrderResponse{
		Order:        res.Order,
		PaymentOrder: res.PaymentOrder,
		Replayed:     res.Replayed,
	})
}

type confirmPaymentRequest struct {
	ProviderOrderID string `json:"provider_order_id"`
	Paid            bool   `json:"paid"`
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	po, err := s.svc.ConfirmPayment(r.Context(), payment.ConfirmRequest{
		PaymentOrderID:  r.PathValue("id"),
		ProviderOrderID: req.ProviderOrderID,
		Paid:            req.Paid,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

type addressRequest struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type packageRequest struct {
	WeightGrams int     `json:"weight_grams"`
	LengthCM    float64 `json:"length_cm"`
	WidthCM     float64 `json:"width_cm"`
	HeightCM    float64 `json:"height_cm"`
	Description string  `json:"description"`
}

type createShipmentRequest struct {
	Consignee      addressRequest `json:"consignee"`
	Package        packageRequest `json:"package"`
	PaymentMode    string         `json:"payment_mode"`
	CODAmountMinor int64          `json:"cod_amount_minor"`
	PickupLocation string         `json:"pickup_location"`
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sh, err := s.svc.CreateShipment(r.Context(), sellerID(r), r.PathValue("orderId"), fulfillment.ShipmentInput{
		Consignee:      shipper.Address(req.Consignee),
		Package:        shipper.Package(req.Package),
		PaymentMode:    req.PaymentMode,
		CODAmountMinor: req.CODAmountMinor,
		PickupLocation: req.PickupLocation,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := s.svc.GetShipment(r.Context(), sellerID(r), r.PathValue("awb"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) handleCancelShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := s.svc.CancelShipment(r.Context(), sellerID(r), r.PathValue("awb"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

type pickupRequest struct {
	Date     string `json:"date"`
	Slot     string `json:"slot"`
	Location string `json:"location"`
}

func (s *Server) handleSchedulePickup(w http.ResponseWriter, r *http.Request) {
	var req pickupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sh, err := s.svc.SchedulePickup(r.Context(), sellerID(r), r.PathValue("awb"), fulfillment.PickupInput(req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	label, err := s.svc.Label(r.Context(), sellerID(r), r.PathValue("awb"), r.URL.Query().Get("size"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if label.Inline() {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, r.PathValue("awb")))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(label.Data)
		return
	}
	http.Redirect(w, r, label.URL, http.StatusFound)
}

func sellerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerSellerID))
}

// decodeJSON reads a bounded JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
