package auth

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DerivePassword returns the deterministic password for a phone:
// "{phone}@{idNumber}" when the profile carries an id number (whitespace
// removed), otherwise "{phone}@{last n digits of phone}".
func DerivePassword(phone, idNumber string, fallbackDigits int) string {
	id := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, idNumber)
	if id == "" {
		id = phone
		if len(phone) > fallbackDigits {
			id = phone[len(phone)-fallbackDigits:]
		}
	}
	return phone + "@" + id
}

// CanonicalLoginIdentifier is the email-shaped identifier an identity for
// phone is expected to carry: "{phone}@{domain}".
func CanonicalLoginIdentifier(phone, domain string) string {
	return phone + "@" + domain
}

// UniqueLoginIdentifier suffixes the phone with the creation time in epoch
// millis so a new identity never collides with an orphaned one.
func UniqueLoginIdentifier(phone, domain string, at time.Time) string {
	return fmt.Sprintf("%s_%d@%s", phone, at.UnixMilli(), domain)
}

// IsLoginIdentifierFor reports whether identifier is the canonical or a
// uniquely-suffixed identifier for phone under domain.
func IsLoginIdentifierFor(identifier, phone, domain string) bool {
	local, host, ok := strings.Cut(identifier, "@")
	if !ok || !strings.EqualFold(host, domain) {
		return false
	}
	if local == phone {
		return true
	}
	suffix, ok := strings.CutPrefix(local, phone+"_")
	return ok && suffix != "" && digits(suffix) == suffix
}
