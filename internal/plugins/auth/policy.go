package auth

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// PasswordPolicy holds the strength rules for new passwords. Character
// classes are lowercase, uppercase, digits and symbols.
type PasswordPolicy struct {
	MinLength  int
	MaxLength  int // bytes; bcrypt ignores input past 72
	MinClasses int
}

// Validate returns every rule the password breaks, or nil.
func (p PasswordPolicy) Validate(password string) []string {
	var errs []string

	if utf8.RuneCountInString(password) < p.MinLength {
		errs = append(errs, fmt.Sprintf("Password must be at least %d characters long.", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		errs = append(errs, fmt.Sprintf("Password must be at most %d bytes long.", p.MaxLength))
	}
	if n := characterClasses(password); n < p.MinClasses {
		errs = append(errs, fmt.Sprintf(
			"Password must contain at least %d of: lowercase letters, uppercase letters, digits, symbols.",
			p.MinClasses))
	}

	return errs
}

func characterClasses(s string) int {
	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}

	n := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			n++
		}
	}
	return n
}

// Describe summarizes the rules for display next to password forms.
func (p PasswordPolicy) Describe() string {
	return fmt.Sprintf("At least %d characters, with at least %d of: lowercase, uppercase, digits, symbols.",
		p.MinLength, p.MinClasses)
}
