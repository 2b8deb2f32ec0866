package auth

import "context"

// CodeSender delivers one-time codes over SMS or WhatsApp.
type CodeSender interface {
	// SendOTP hands the code to the provider for the '+'-less canonical phone.
	// Returns nil once the provider accepted the message, not on receipt.
	SendOTP(ctx context.Context, phone string, code string) error
}
