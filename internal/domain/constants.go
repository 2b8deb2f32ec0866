package domain

import "time"

// Compiled defaults; every value can be overridden via configuration.
const (
	// One-time codes
	OTPLength            = 6
	OTPValidityDuration  = 10 * time.Minute
	MaxOTPVerifyAttempts = 5
	DefaultTestOTPCode   = "999999"
	OTPRetentionAfterTTL = 24 * time.Hour // DynamoDB TTL attribute offset

	// Send rate limiting, per phone
	OTPRequestRateLimitPerPhone = 5
	OTPRateLimitWindow          = 15 * time.Minute

	// Timeout contracts
	CodeStoreWriteTimeout = 3 * time.Second
	DeliveryTimeout       = 5 * time.Second
	IdentityCallTimeout   = 10 * time.Second
	ProfileStoreTimeout   = 5 * time.Second
	RedisTimeout          = 2 * time.Second

	// Identity reconciliation
	DefaultLoginDomain     = "hur.delivery"
	CredentialVerifyDelay  = 500 * time.Millisecond
	IdentityLockTTL        = 30 * time.Second // floor; raised to outlast the identity flow budget
	IdentityLockWait       = 3 * time.Second
	PasswordFallbackDigits = 6
	IdentitySearchMaxPages = 5
	IdentitySearchPageSize = 100

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 1 * time.Second // health checks report 503 before draining
	ShutdownHTTPTimeout     = 15 * time.Second
	ShutdownCleanupTimeout  = 5 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second

	// HTTP server; a full authenticate flow makes several identity calls
	HTTPReadHeaderTimeout = 5 * time.Second
	HTTPWriteTimeout      = 60 * time.Second
	HTTPIdleTimeout       = 60 * time.Second
)

// Purpose scopes a one-time code to the flow that requested it.
type Purpose string

const (
	PurposeSignup        Purpose = "signup"
	PurposeResetPassword Purpose = "reset_password"
	PurposeDeleteAccount Purpose = "delete_account"
)

// IsValidPurpose checks if a purpose is supported.
func IsValidPurpose(p Purpose) bool {
	switch p {
	case PurposeSignup, PurposeResetPassword, PurposeDeleteAccount:
		return true
	}
	return false
}

// PurposeOr returns p when set, otherwise fallback.
func PurposeOr(p, fallback Purpose) Purpose {
	if p == "" {
		return fallback
	}
	return p
}
