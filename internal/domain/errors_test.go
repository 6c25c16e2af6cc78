package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

func TestDerivedErrorsMatchParentKind(t *testing.T) {
	assert.ErrorIs(t, domain.ErrInvalidAmount, domain.ErrInvalidInput)
	assert.ErrorIs(t, domain.ErrNotCancellable, domain.ErrConflict)
	assert.NotErrorIs(t, domain.ErrNotCancellable, domain.ErrInvalidInput)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, domain.IsRetryable(nil))
	assert.True(t, domain.IsRetryable(fmt.Errorf("apply: %w", domain.ErrStorageConflict)))
	assert.True(t, domain.IsRetryable(
		shipper.NewShipperError("delhivery", shipper.CodeUnavailable, "timeout").WithRetryable(true)))
	assert.False(t, domain.IsRetryable(
		shipper.NewShipperError("delhivery", shipper.CodeAmbiguous, "unclear")))
	assert.False(t, domain.IsRetryable(domain.ErrForbidden))
	assert.False(t, domain.IsRetryable(errors.New("boom")))
}

func TestShipmentActive(t *testing.T) {
	assert.True(t, (&domain.Shipment{Status: shipper.StatusInTransit}).Active())
	assert.True(t, (&domain.Shipment{Status: shipper.StatusDelivered}).Active())
	assert.False(t, (&domain.Shipment{Status: shipper.StatusCancelled}).Active())
	assert.False(t, (&domain.Shipment{Status: shipper.StatusRTO}).Active())
}
