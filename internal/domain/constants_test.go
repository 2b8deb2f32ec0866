package domain_test

import (
	"testing"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsValidPurpose(t *testing.T) {
	tests := []struct {
		name string
		p    domain.Purpose
		want bool
	}{
		{name: "signup", p: "signup", want: true},
		{name: "reset_password", p: "reset_password", want: true},
		{name: "delete_account", p: "delete_account", want: true},
		{name: "empty is invalid", p: "", want: false},
		{name: "login is invalid", p: "login", want: false},
		{name: "SIGNUP is invalid (case-sensitive)", p: "SIGNUP", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.IsValidPurpose(tt.p))
		})
	}
}

func TestPurposeOr(t *testing.T) {
	assert.Equal(t, domain.PurposeSignup, domain.PurposeOr("", domain.PurposeSignup))
	assert.Equal(t, domain.PurposeDeleteAccount, domain.PurposeOr(domain.PurposeDeleteAccount, domain.PurposeSignup))
}
