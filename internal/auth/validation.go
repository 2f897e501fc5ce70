package auth

import (
	"errors"
	"net/mail"
	"strings"
)

// maxEmailLength is the longest address accepted, per RFC 5321
const maxEmailLength = 254

var (
	ErrEmailRequired = errors.New("email is required")
	ErrEmailTooLong  = errors.New("email is too long")
	ErrEmailInvalid  = errors.New("email is not a valid address")
)

// NormalizeEmail trims and lowercases an address. Stored emails are always normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a single bare address with a dotted domain.
// Display-name forms such as "Jane <jane@example.com>" are rejected.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > maxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrEmailInvalid
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ErrEmailInvalid
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return ErrEmailInvalid
	}

	return nil
}
