package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

// errorKinds is checked in order; the first match decides the response.
var errorKinds = []struct {
	target error
	kind   string
	status int
}{
	{domain.ErrSignatureInvalid, "signature_invalid", http.StatusUnauthorized},
	{domain.ErrInvalidInput, "invalid_input", http.StatusBadRequest},
	{domain.ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{domain.ErrForbidden, "forbidden", http.StatusForbidden},
	{domain.ErrNotFound, "not_found", http.StatusNotFound},
	{domain.ErrNotCancellable, "not_cancellable", http.StatusConflict},
	{domain.ErrConflict, "conflict", http.StatusConflict},
	{domain.ErrStorageConflict, "storage_conflict", http.StatusServiceUnavailable},
	{shipper.ErrProviderUnavailable, "provider_unavailable", http.StatusServiceUnavailable},
	{shipper.ErrProviderRejected, "provider_rejected", http.StatusBadGateway},
	{shipper.ErrProviderAmbiguous, "provider_ambiguous", http.StatusBadGateway},
	{shipper.ErrLabelUnavailable, "label_unavailable", http.StatusBadGateway},
}

func classify(err error) (kind string, status int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.kind, k.status
		}
	}
	return "internal", http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, status := classify(err)

	resp := errorResponse{
		Error:     kind,
		Message:   err.Error(),
		Retryable: domain.IsRetryable(err),
	}
	var shipErr *shipper.ShipperError
	if errors.As(err, &shipErr) {
		resp.Message = shipErr.Message
		resp.Detail = shipErr.Snippet
	}

	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	if status == http.StatusInternalServerError {
		resp.Message = "internal error"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
