// Package validate normalizes patient login input into the canonical forms
// the clinic backend expects: E.164-style US phone numbers and YYYY-MM-DD
// dates of birth.
package validate

import (
	"errors"
	"strings"
)

var (
	ErrPhoneEmpty    = errors.New("phone number is required")
	ErrPhoneTooShort = errors.New("phone number must be at least 10 digits")
	ErrPhoneTooLong  = errors.New("phone number is too long")
	ErrPhoneFormat   = errors.New("invalid phone number format")
)

// Phone canonicalizes a free-form US phone number to "+1" followed by ten
// digits. All non-digit characters are stripped first; an 11-digit number is
// accepted only when it already carries the leading country code 1.
func Phone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 0:
		return "", ErrPhoneEmpty
	case len(digits) < 10:
		return "", ErrPhoneTooShort
	case len(digits) > 11:
		return "", ErrPhoneTooLong
	case len(digits) == 10:
		return "+1" + digits, nil
	case digits[0] == '1':
		return "+" + digits, nil
	default:
		return "", ErrPhoneFormat
	}
}
