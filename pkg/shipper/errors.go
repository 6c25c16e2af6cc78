package shipper

import (
	"errors"
	"fmt"
)

// Error codes reported by carrier adapters.
const (
	CodeRejected         = "PROVIDER_REJECTED"
	CodeAmbiguous        = "PROVIDER_AMBIGUOUS"
	CodeUnavailable      = "PROVIDER_UNAVAILABLE"
	CodeLabelUnavailable = "LABEL_UNAVAILABLE"
)

// snippetLimit bounds the raw provider text kept on an error.
const snippetLimit = 512

// ShipperError represents an error from a shipping carrier.
type ShipperError struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Snippet    string // truncated raw provider response
	Cause      error
}

// Error implements the error interface.
func (e *ShipperError) Error() string {
	msg := fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [http %d]", e.StatusCode)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ShipperError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ShipperError. Two ShipperErrors match on code,
// and a ShipperError matches the sentinel of its code.
func (e *ShipperError) Is(target error) bool {
	if t, ok := target.(*ShipperError); ok {
		return e.Code == t.Code
	}
	return sentinels[e.Code] == target
}

// NewShipperError creates a new ShipperError.
func NewShipperError(carrier, code, message string) *ShipperError {
	return &ShipperError{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *ShipperError) WithCause(err error) *ShipperError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *ShipperError) WithStatusCode(code int) *ShipperError {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *ShipperError) WithRetryable(retryable bool) *ShipperError {
	e.Retryable = retryable
	return e
}

// WithSnippet attaches a truncated copy of the raw provider response.
func (e *ShipperError) WithSnippet(raw []byte) *ShipperError {
	e.Snippet = Truncate(raw)
	return e
}

// Truncate shortens raw provider text for logs and operator-facing errors.
func Truncate(raw []byte) string {
	if len(raw) <= snippetLimit {
		return string(raw)
	}
	return string(raw[:snippetLimit]) + "..."
}

// Sentinel errors for carrier outcomes.
var (
	// ErrProviderRejected indicates the carrier returned an explicit failure.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrProviderAmbiguous indicates the acknowledgment could not be
	// classified as success. It is always treated as failure.
	ErrProviderAmbiguous = errors.New("provider acknowledgment ambiguous")

	// ErrProviderUnavailable indicates a timeout, transport failure or 5xx.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrLabelUnavailable indicates no label could be produced in any size.
	ErrLabelUnavailable = errors.New("label not available")
)

var sentinels = map[string]error{
	CodeRejected:         ErrProviderRejected,
	CodeAmbiguous:        ErrProviderAmbiguous,
	CodeUnavailable:      ErrProviderUnavailable,
	CodeLabelUnavailable: ErrLabelUnavailable,
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var shipperErr *ShipperError
	if errors.As(err, &shipperErr) {
		return shipperErr.Retryable
	}
	return errors.Is(err, ErrProviderUnavailable)
}
