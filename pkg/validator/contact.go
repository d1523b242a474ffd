package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyEmail indicates the email address is empty
	ErrEmptyEmail = errors.New("email address cannot be empty")

	// ErrInvalidEmail indicates the email address is malformed
	ErrInvalidEmail = errors.New("email address is invalid")

	// ErrInvalidPhone indicates the phone number is malformed
	ErrInvalidPhone = errors.New("phone number must be 10 digits starting with 0")
)

// emailRegex is a pragmatic shape check, not an RFC 5322 implementation
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// localPhoneRegex matches Sri Lankan 10-digit mobile/landline numbers
var localPhoneRegex = regexp.MustCompile(`^0\d{9}$`)

// ContactValidator validates purchaser contact details on guest checkouts
type ContactValidator struct{}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// ValidateEmail validates and normalizes an email address
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", ErrEmptyEmail
	}
	if !emailRegex.MatchString(trimmed) {
		return "", ErrInvalidEmail
	}

	return trimmed, nil
}

// ValidatePhone validates a local phone number, stripping separators.
// An empty phone is allowed - guests only need an email.
func (v *ContactValidator) ValidatePhone(phone string) (string, error) {
	sanitized := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)

	if sanitized == "" {
		return "", nil
	}
	if !localPhoneRegex.MatchString(sanitized) {
		return "", ErrInvalidPhone
	}

	return sanitized, nil
}
