package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password against the policy.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(password):
		return ErrWeakPassword
	}
	return nil
}

// ValidatePair checks that the confirmation matches before applying the policy.
func (c Config) ValidatePair(password, confirm string) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	return c.Validate(password)
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password123": {}, "contraseña": {}, "qwerty": {},
	"qwerty123": {}, "123456": {}, "123456789": {}, "11111111": {},
}

// weakRules is deliberately small; it is no strength estimator.
var weakRules = []func(string) bool{
	func(s string) bool { return s == "" },
	func(s string) bool { _, ok := commonPasswords[strings.ToLower(s)]; return ok },
	repeatsOneRune,
	shortDigitsOnly,
	isStraightRun,
}

func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	for _, weak := range weakRules {
		if weak(s) {
			return true
		}
	}
	return false
}

func repeatsOneRune(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	return strings.Trim(s, string(first)) == ""
}

// shortDigitsOnly matches PIN-like input.
func shortDigitsOnly(s string) bool {
	return utf8.RuneCountInString(s) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

// isStraightRun matches "abcdef", "987654" and the like.
func isStraightRun(s string) bool {
	rs := []rune(strings.ToLower(s))
	if len(rs) < 2 {
		return false
	}
	step := rs[1] - rs[0]
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(rs); i++ {
		if rs[i]-rs[i-1] != step {
			return false
		}
	}
	return true
}
