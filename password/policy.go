package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const maxBytes = 72

var (
	// ErrTooShort is returned when a password is below the policy minimum.
	ErrTooShort = errors.New("password too short")
	// ErrTooWeak is returned, wrapped with the missing classes, when a
	// password lacks a required character class.
	ErrTooWeak = errors.New("password too weak")
)

// Policy describes the strength requirements for new passwords.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPolicy returns the policy applied at signup and reset.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Check returns nil when password satisfies p.
func (p Policy) Check(password string) error {
	if len([]rune(password)) < p.MinLength {
		return ErrTooShort
	}
	if len(password) > maxBytes {
		return ErrTooLong
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var missing []string
	if p.RequireUpper && !upper {
		missing = append(missing, "an upper-case letter")
	}
	if p.RequireLower && !lower {
		missing = append(missing, "a lower-case letter")
	}
	if p.RequireDigit && !digit {
		missing = append(missing, "a digit")
	}
	if p.RequireSymbol && !symbol {
		missing = append(missing, "a symbol")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: must contain %s", ErrTooWeak, strings.Join(missing, ", "))
	}
	return nil
}
