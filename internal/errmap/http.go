// Package errmap translates domain errors into the HTTP error envelope the
// action endpoint answers with.
package errmap

import (
	"errors"
	"net/http"

	"github.com/hur-delivery/otpauth/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping.
type httpMapping struct {
	err        error
	statusCode int
	code       string
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is).
var httpMappings = []httpMapping{
	// Validation errors
	{domain.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
	{domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "VALIDATION_ERROR"},
	{domain.ErrUnknownAction, http.StatusBadRequest, "UNKNOWN_ACTION"},

	// One-time codes
	{domain.ErrOTPNotFound, http.StatusBadRequest, "OTP_NOT_FOUND"},
	{domain.ErrOTPExpired, http.StatusBadRequest, "OTP_EXPIRED"},
	{domain.ErrOTPMismatch, http.StatusBadRequest, "OTP_MISMATCH"},
	{domain.ErrOTPThrottled, http.StatusTooManyRequests, "OTP_THROTTLED"},

	// Rate limiting and contention
	{domain.ErrPhoneRateLimited, http.StatusTooManyRequests, "PHONE_RATE_LIMITED"},
	{domain.ErrIdentityBusy, http.StatusConflict, "IDENTITY_BUSY"},

	// Server-side conditions
	{domain.ErrNotConfigured, http.StatusInternalServerError, "NOT_CONFIGURED"},
	{domain.ErrIdentityProvisioningFailed, http.StatusInternalServerError, "IDENTITY_PROVISIONING_FAILED"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// ToHTTPError converts a domain error to an HTTP error. Unmapped errors are
// 500 INTERNAL and carry the raw error string.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: m.code, Message: err.Error()}
		}
	}
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: err.Error()}
}
