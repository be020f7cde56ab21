// Package phone validates and canonicalizes contact phone numbers before any
// send attempt. Validation is deterministic and makes no network calls.
package phone

import (
	"errors"
	"strings"
)

var (
	// ErrMissing is returned when no phone number is stored on the contact.
	ErrMissing = errors.New("phone number is missing")
	// ErrMasked is returned for agency-redacted numbers containing literal
	// asterisks. Masked numbers are never usable as a send target.
	ErrMasked = errors.New("phone number is masked")
	// ErrMissingCountryCode is returned when the digit count is too low for a
	// full international number. The 10-digit threshold is a heuristic, not a
	// strict E.164 check.
	ErrMissingCountryCode = errors.New("phone number is missing a country code")
)

const minInternationalDigits = 10

// Normalize validates a raw phone string and returns its canonical
// digits-only form, or a typed rejection.
func Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrMissing
	}
	if strings.Contains(raw, "*") {
		return "", ErrMasked
	}
	digits := stripNonDigits(raw)
	if len(digits) < minInternationalDigits {
		return "", ErrMissingCountryCode
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
