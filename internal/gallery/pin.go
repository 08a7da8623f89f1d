package gallery

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"regexp"
)

const saltSize = 16

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// ValidatePIN enforces the §4.8 PIN format: exactly four ASCII digits.
func ValidatePIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("pin must be exactly 4 ASCII digits")
	}
	return nil
}

// HashPIN derives a fresh salted digest for pin. §4.8 names SHA-256
// after salting as the reference one-way function; crypto/sha256 and
// crypto/subtle are the correct tools here because the spec itself
// pins the exact primitive, not because no library covers it (see
// DESIGN.md).
func HashPIN(pin string) (PINDigest, error) {
	if err := ValidatePIN(pin); err != nil {
		return PINDigest{}, err
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return PINDigest{}, fmt.Errorf("generate salt: %w", err)
	}
	return PINDigest{Salt: salt, Hash: digest(salt, pin)}, nil
}

// VerifyPIN compares pin's digest against d in constant time.
func VerifyPIN(d PINDigest, pin string) bool {
	if len(d.Hash) == 0 {
		return false
	}
	got := digest(d.Salt, pin)
	return subtle.ConstantTimeCompare(got, d.Hash) == 1
}

func digest(salt []byte, pin string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(pin))
	return h.Sum(nil)
}
