package domain

import (
	"errors"
	"fmt"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Error kinds. Derived errors wrap their parent kind so errors.Is matches
// both.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStorageConflict  = errors.New("storage conflict")
	ErrSignatureInvalid = errors.New("signature invalid")

	ErrInvalidAmount  = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrNotCancellable = fmt.Errorf("%w: shipment is not cancellable", ErrConflict)
)

// IsRetryable reports whether the caller may retry the request with the same
// inputs.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStorageConflict) || shipper.IsRetryable(err)
}
