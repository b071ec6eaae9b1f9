package common

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptyPhone  = errors.New("phone number cannot be empty")
	nonPhoneDigits = regexp.MustCompile(`[^0-9]+`)
)

// NormalizePhone reduces a provider-formatted phone number to "+<digits>".
// Ten-digit numbers are assumed to be NANP and get a leading country code.
func NormalizePhone(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrEmptyPhone
	}
	trimmed = strings.TrimPrefix(trimmed, "tel:")
	if i := strings.IndexByte(trimmed, '@'); i >= 0 {
		trimmed = strings.TrimPrefix(trimmed[:i], "sip:")
	}

	digits := nonPhoneDigits.ReplaceAllString(trimmed, "")
	if digits == "" {
		return "", ErrEmptyPhone
	}
	if len(digits) == 10 && !strings.HasPrefix(trimmed, "+") {
		digits = "1" + digits
	}
	return "+" + digits, nil
}

// PhoneOrRaw returns the normalized number, or the trimmed input when it cannot be normalized.
func PhoneOrRaw(input string) string {
	normalized, err := NormalizePhone(input)
	if err != nil {
		return strings.TrimSpace(input)
	}
	return normalized
}
