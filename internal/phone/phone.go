// Package phone canonicalizes Brazilian phone numbers for the WhatsApp gateway.
package phone

import (
	"errors"
	"strings"
)

// CountryCode is prepended to national-format numbers.
const CountryCode = "55"

var (
	// ErrInvalidLength means fewer than 8 digits remained after stripping.
	ErrInvalidLength = errors.New("phone: too few digits")
	// ErrMissingAreaCode means the number has 8-9 digits and the area code
	// cannot be inferred; the caller must re-prompt.
	ErrMissingAreaCode = errors.New("phone: missing area code")
	// ErrInvalidFormat means the number did not canonicalize to 12-13 digits.
	ErrInvalidFormat = errors.New("phone: invalid format")
)

// Normalize strips a raw user-entered phone number down to digits and returns
// it in canonical international format: country code + 2-digit area code +
// 8-9 digit subscriber number (12-13 digits total). It is pure and performs
// no network lookups.
func Normalize(raw string) (string, error) {
	digits := stripNonDigits(raw)

	switch n := len(digits); {
	case n < 8:
		return "", ErrInvalidLength
	case n <= 9:
		return "", ErrMissingAreaCode
	case n <= 11:
		// National format with area code, no country code.
		digits = CountryCode + digits
	default:
		if !strings.HasPrefix(digits, CountryCode) {
			digits = CountryCode + digits
		}
	}

	if len(digits) < 12 || len(digits) > 13 {
		return "", ErrInvalidFormat
	}
	return digits, nil
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
