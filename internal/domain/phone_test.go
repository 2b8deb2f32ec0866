package domain_test

import (
	"testing"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneNormalizer_Normalize(t *testing.T) {
	n := domain.DefaultPhoneNormalizer()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "canonical unchanged", raw: "9647701234567", want: "9647701234567"},
		{name: "plus prefixed", raw: "+9647701234567", want: "9647701234567"},
		{name: "separators stripped", raw: "+964 (770) 123-4567", want: "9647701234567"},
		{name: "international 00 prefix", raw: "009647701234567", want: "9647701234567"},
		{name: "national trunk zero", raw: "07701234567", want: "9647701234567"},
		{name: "bare subscriber number", raw: "7701234567", want: "9647701234567"},
		{name: "country code then trunk zero", raw: "96407701234567", want: "9647701234567"},
		{name: "plus country code then trunk zero", raw: "+964 0770 123 4567", want: "9647701234567"},
		{name: "over-long keeps last ten digits", raw: "964997701234567", want: "9647701234567"},
		{name: "short leading zero untouched", raw: "0770", want: "0770"},
		{name: "ten digits not mobile prefix", raw: "1234567890", want: "1234567890"},
		{name: "empty", raw: "", want: ""},
		{name: "letters only", raw: "abc", want: ""},
		{name: "truncation exposing trunk zero", raw: "9641110123456789", want: "964123456789"},
		{name: "all zeros collapse to the country code", raw: "000000000000000", want: "964"},
		{name: "repeated trunk zeros", raw: "96400000000000", want: "964"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.raw))
		})
	}
}

func TestPhoneNormalizer_NormalizeIsIdempotent(t *testing.T) {
	n := domain.DefaultPhoneNormalizer()
	inputs := []string{
		"", "0", "00", "000000000000000", "07701234567", "+9647701234567",
		"009640770123456789", "96400000000000", "9641110123456789", "7", "12345",
		"0096400964771", "+1 415 555 2671",
	}
	for _, raw := range inputs {
		once := n.Normalize(raw)
		assert.Equal(t, once, n.Normalize(once), "input %q", raw)
	}
}

func TestPhoneNormalizer_Converges(t *testing.T) {
	n := domain.DefaultPhoneNormalizer()
	forms := []string{
		"9647701234567", "+9647701234567", "07701234567", "7701234567",
		"009647701234567", "96407701234567", "+964-770-123-4567",
	}
	for _, raw := range forms {
		assert.Equal(t, "9647701234567", n.Normalize(raw), "input %q", raw)
	}
}

func TestPhoneNormalizer_Parse(t *testing.T) {
	n := domain.DefaultPhoneNormalizer()

	t.Run("valid", func(t *testing.T) {
		p, err := n.Parse("0770 123 4567")
		require.NoError(t, err)
		assert.Equal(t, "9647701234567", p.String())
		assert.Equal(t, "+9647701234567", p.E164())
		assert.False(t, p.IsZero())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := n.Parse("   ")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := n.Parse("07701")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	})

	t.Run("foreign number", func(t *testing.T) {
		_, err := n.Parse("+14155552671")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	})
}

func TestPhoneNormalizer_SamePhone(t *testing.T) {
	n := domain.DefaultPhoneNormalizer()
	phone := domain.MustPhoneNumber("9647701234567")

	tests := []struct {
		name  string
		claim string
		want  bool
	}{
		{name: "exact", claim: "9647701234567", want: true},
		{name: "plus prefixed", claim: "+9647701234567", want: true},
		{name: "national form", claim: "07701234567", want: true},
		{name: "empty claim never matches", claim: "", want: false},
		{name: "whitespace claim never matches", claim: "  ", want: false},
		{name: "different phone", claim: "9647709999999", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.SamePhone(tt.claim, phone))
		})
	}

	t.Run("zero phone never matches", func(t *testing.T) {
		assert.False(t, n.SamePhone("9647701234567", domain.PhoneNumber{}))
	})
}

func TestPhoneNumber(t *testing.T) {
	t.Run("zero value is zero", func(t *testing.T) {
		var p domain.PhoneNumber
		assert.True(t, p.IsZero())
		assert.Empty(t, p.String())
		assert.Empty(t, p.E164())
	})

	t.Run("last digits", func(t *testing.T) {
		p := domain.MustPhoneNumber("9647701234567")
		assert.Equal(t, "234567", p.LastDigits(6))
		assert.Equal(t, "9647701234567", p.LastDigits(20))
	})

	t.Run("MustPhoneNumber panics on invalid", func(t *testing.T) {
		assert.Panics(t, func() {
			domain.MustPhoneNumber("invalid")
		})
	})
}
