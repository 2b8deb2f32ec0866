package domain

import "log/slog"

const redacted = "[REDACTED]"

// SecretString wraps sensitive string values such as the identity provider
// service key, the code pepper and derived passwords.
// Implements slog.LogValuer and fmt.Stringer so the value never reaches logs.
type SecretString string

// String returns a redacted placeholder, never the actual value.
func (s SecretString) String() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalText keeps secrets out of accidental JSON/text encoding.
func (s SecretString) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Expose returns the actual secret value.
// Use sparingly - only when the secret must leave the process (API calls, MACs,
// the authenticate response).
func (s SecretString) Expose() string {
	return string(s)
}

// Bytes returns the secret as a byte slice for keyed hashing.
func (s SecretString) Bytes() []byte {
	return []byte(s)
}

// IsEmpty returns true if the secret is empty.
func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}

var _ slog.LogValuer = SecretString("")
