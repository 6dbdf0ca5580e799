package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrInvalidBarcode = errors.New("invalid barcode")
	ErrInvalidPhone   = errors.New("invalid phone number")
)

const (
	minBarcodeLen = 4
	maxBarcodeLen = 64
	minPhoneLen   = 8
	maxPhoneLen   = 15
)

// ValidateBarcode checks a vaccine vial barcode and returns it normalized (trimmed,
// upper-cased).
func ValidateBarcode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if n := len(code); n < minBarcodeLen || n > maxBarcodeLen {
		return "", fmt.Errorf("%w: length must be between %d and %d", ErrInvalidBarcode, minBarcodeLen, maxBarcodeLen)
	}
	for _, r := range code {
		if !(unicode.IsDigit(r) || (r >= 'A' && r <= 'Z') || r == '-' || r == '.' || r == '/') {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidBarcode, r)
		}
	}
	return code, nil
}

// ValidatePhone checks a phone number and returns it with spaces, dashes and brackets
// removed. A leading + is kept.
func ValidatePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidPhone, r)
		}
	}
	out := b.String()
	digits := len(strings.TrimPrefix(out, "+"))
	if digits < minPhoneLen || digits > maxPhoneLen {
		return "", fmt.Errorf("%w: expected %d to %d digits", ErrInvalidPhone, minPhoneLen, maxPhoneLen)
	}
	return out, nil
}
