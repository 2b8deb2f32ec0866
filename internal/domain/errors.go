package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Validation errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
	ErrUnknownAction      = errors.New("unknown action")

	// One-time code errors
	ErrOTPNotFound  = errors.New("no active verification code")
	ErrOTPExpired   = errors.New("verification code has expired")
	ErrOTPMismatch  = errors.New("verification code does not match")
	ErrOTPThrottled = errors.New("too many verification attempts")

	// Operational errors
	ErrPhoneRateLimited = errors.New("phone number rate limit exceeded")
	ErrIdentityBusy     = errors.New("identity is being updated by another request")
	ErrUnavailable      = errors.New("service temporarily unavailable")

	// Identity errors
	ErrIdentityProvisioningFailed = errors.New("identity provisioning failed")

	// Configuration errors
	ErrNotConfigured  = errors.New("service is not configured")
	ErrConfigRequired = errors.New("required configuration key missing")
)

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrPhoneRateLimited) ||
		errors.Is(err, ErrIdentityBusy)
}

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrInvalidInput,
	ErrInvalidPhoneNumber,
	ErrUnknownAction,
	ErrNotFound,
	ErrOTPNotFound,
	ErrOTPExpired,
	ErrOTPMismatch,
	ErrOTPThrottled,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
