// Package auth holds the credential primitives of the login flow: one-time
// code generation and MACs, test-number matching, login identifiers and the
// derived password scheme.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"
)

var otpMax = big.NewInt(1_000_000) // 10^6 for 6-digit codes

// GenerateOTP generates a cryptographically random 6-digit code, zero-padded.
// rand.Int rejection-samples, so there is no modulo bias.
func GenerateOTP() (string, error) {
	return generateOTP(rand.Reader)
}

func generateOTP(r io.Reader) (string, error) {
	n, err := rand.Int(r, otpMax)
	if err != nil {
		return "", fmt.Errorf("generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// CodeBinding is the context a stored code is valid for.
type CodeBinding struct {
	Phone     string
	Purpose   string
	ExpiresAt time.Time
}

// ComputeOTPMAC computes HMAC-SHA256(pepper, code || phone || purpose || expiresAt).
// Each field is length-prefixed so adjacent fields cannot be shifted into one another.
func ComputeOTPMAC(pepper []byte, code string, b CodeBinding) string {
	mac := hmac.New(sha256.New, pepper)
	for _, field := range []string{code, b.Phone, b.Purpose, b.ExpiresAt.UTC().Format(time.RFC3339Nano)} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(field)))
		mac.Write(l[:])
		mac.Write([]byte(field))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOTPMAC compares a candidate code against a stored MAC in constant time.
func VerifyOTPMAC(pepper []byte, candidate string, b CodeBinding, storedMAC string) bool {
	candidateMAC := ComputeOTPMAC(pepper, candidate, b)
	return subtle.ConstantTimeCompare([]byte(candidateMAC), []byte(storedMAC)) == 1
}
