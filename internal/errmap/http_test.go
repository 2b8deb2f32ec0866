package errmap_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/errmap"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatusCode int
		wantCode       string
	}{
		{"nil error", nil, http.StatusOK, ""},

		{"ErrInvalidInput", domain.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"ErrInvalidPhoneNumber", domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"ErrUnknownAction", domain.ErrUnknownAction, http.StatusBadRequest, "UNKNOWN_ACTION"},

		{"ErrOTPNotFound", domain.ErrOTPNotFound, http.StatusBadRequest, "OTP_NOT_FOUND"},
		{"ErrOTPExpired", domain.ErrOTPExpired, http.StatusBadRequest, "OTP_EXPIRED"},
		{"ErrOTPMismatch", domain.ErrOTPMismatch, http.StatusBadRequest, "OTP_MISMATCH"},
		{"ErrOTPThrottled", domain.ErrOTPThrottled, http.StatusTooManyRequests, "OTP_THROTTLED"},

		{"ErrPhoneRateLimited", domain.ErrPhoneRateLimited, http.StatusTooManyRequests, "PHONE_RATE_LIMITED"},
		{"ErrIdentityBusy", domain.ErrIdentityBusy, http.StatusConflict, "IDENTITY_BUSY"},

		{"ErrNotConfigured", domain.ErrNotConfigured, http.StatusInternalServerError, "NOT_CONFIGURED"},
		{"ErrIdentityProvisioningFailed", domain.ErrIdentityProvisioningFailed, http.StatusInternalServerError, "IDENTITY_PROVISIONING_FAILED"},
		{"ErrUnavailable", domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},

		{"wrapped ErrOTPExpired", fmt.Errorf("check code: %w", domain.ErrOTPExpired), http.StatusBadRequest, "OTP_EXPIRED"},
		{"unknown error", errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errmap.ToHTTPError(tt.err)

			assert.Equal(t, tt.wantStatusCode, got.StatusCode)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestToHTTPError_MessageCarriesRawError(t *testing.T) {
	err := fmt.Errorf("identity provider: create identity: %w", errors.New("unexpected EOF"))

	got := errmap.ToHTTPError(err)

	assert.Equal(t, "identity provider: create identity: unexpected EOF", got.Message)
	assert.Equal(t, got.Message, got.Error())
}

func TestToHTTPError_FirstMatchWins(t *testing.T) {
	err := errors.Join(domain.ErrInvalidPhoneNumber, domain.ErrNotConfigured)

	got := errmap.ToHTTPError(err)

	assert.Equal(t, "VALIDATION_ERROR", got.Code)
}
