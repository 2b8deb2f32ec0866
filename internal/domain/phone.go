package domain

import (
	"fmt"
	"strings"
)

// Default dialing plan: Iraq, mobile numbers start with 7 after the country code.
const (
	DefaultCountryCode      = "964"
	DefaultMobilePrefix     = '7'
	DefaultSubscriberDigits = 10
)

// PhoneNormalizer maps the many ways a user can type a phone number onto one
// canonical digit string: country code followed by the subscriber number,
// no '+' and no separators.
type PhoneNormalizer struct {
	CountryCode      string
	MobilePrefix     byte
	SubscriberDigits int
}

// DefaultPhoneNormalizer returns the normalizer for the default dialing plan.
func DefaultPhoneNormalizer() PhoneNormalizer {
	return PhoneNormalizer{
		CountryCode:      DefaultCountryCode,
		MobilePrefix:     DefaultMobilePrefix,
		SubscriberDigits: DefaultSubscriberDigits,
	}
}

// Normalize is a best-effort transform; it never fails. Rules apply in order:
//
//	00964...          -> 964...
//	07xxxxxxxxx       -> 9647xxxxxxxxx   (leading 0, length >= 11)
//	7xxxxxxxxx        -> 9647xxxxxxxxx   (bare subscriber number)
//	9640...           -> 964...          (stray trunk zero)
//	964 + >10 digits  -> 964 + last 10 digits
//
// Normalize(Normalize(x)) == Normalize(x) for every input.
func (n PhoneNormalizer) Normalize(raw string) string {
	d := digitsOnly(raw)
	// A single pass can expose a new trunk zero (e.g. truncation leaving
	// 9640...), so repeat until the string stops changing. Only the first pass
	// can grow the string; later passes strictly shrink it, so the pass count
	// is bounded by the grown length.
	for i, limit := 0, len(d)+len(n.CountryCode)+2; i < limit; i++ {
		next := n.pass(d)
		if next == d {
			break
		}
		d = next
	}
	return d
}

func (n PhoneNormalizer) pass(d string) string {
	cc := n.CountryCode

	if strings.HasPrefix(d, "00") {
		d = d[2:]
	}
	if strings.HasPrefix(d, "0") && len(d) >= n.SubscriberDigits+1 {
		d = cc + d[1:]
	}
	if len(d) == n.SubscriberDigits && d[0] == n.MobilePrefix {
		d = cc + d
	}
	if strings.HasPrefix(d, cc+"0") {
		d = cc + d[len(cc)+1:]
	}
	if len(d) > len(cc)+n.SubscriberDigits && strings.HasPrefix(d, cc) {
		d = cc + d[len(d)-n.SubscriberDigits:]
	}
	return d
}

// Parse normalizes raw and rejects anything that is not country code plus
// exactly SubscriberDigits digits.
func (n PhoneNormalizer) Parse(raw string) (PhoneNumber, error) {
	if strings.TrimSpace(raw) == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty: %w", ErrInvalidPhoneNumber)
	}
	d := n.Normalize(raw)
	if len(d) != len(n.CountryCode)+n.SubscriberDigits || !strings.HasPrefix(d, n.CountryCode) {
		return PhoneNumber{}, fmt.Errorf("phone number %q does not normalize to a %s number: %w",
			raw, n.CountryCode, ErrInvalidPhoneNumber)
	}
	return PhoneNumber{value: d}, nil
}

// SamePhone reports whether claim refers to the canonical phone. Accepted
// forms are exact, '+'-prefixed, '+'-stripped, or anything that normalizes to
// phone. An empty claim never matches.
func (n PhoneNormalizer) SamePhone(claim string, phone PhoneNumber) bool {
	claim = strings.TrimSpace(claim)
	if claim == "" || phone.IsZero() {
		return false
	}
	switch claim {
	case phone.String(), phone.E164():
		return true
	}
	if strings.TrimPrefix(claim, "+") == phone.String() {
		return true
	}
	return n.Normalize(claim) == phone.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// PhoneNumber is a value object holding a canonical phone (digits only,
// country code first). Always valid in memory - use PhoneNormalizer.Parse.
type PhoneNumber struct {
	value string
}

// MustPhoneNumber parses raw with the default normalizer, panicking on invalid
// input. Use only in tests.
func MustPhoneNumber(raw string) PhoneNumber {
	p, err := DefaultPhoneNormalizer().Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p PhoneNumber) String() string { return p.value }
func (p PhoneNumber) IsZero() bool   { return p.value == "" }

// E164 returns the '+'-prefixed form.
func (p PhoneNumber) E164() string {
	if p.value == "" {
		return ""
	}
	return "+" + p.value
}

// LastDigits returns the trailing n digits, or the whole number when shorter.
func (p PhoneNumber) LastDigits(n int) string {
	if len(p.value) <= n {
		return p.value
	}
	return p.value[len(p.value)-n:]
}
